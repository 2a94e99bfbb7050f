package rembg

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util/pool"
)

const (
	LocalName = "local"

	DefaultLocalCommand = "rembg"
	DefaultLocalTimeout = 120 * time.Second

	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"
)

// DefaultLocalArgs runs `rembg i <input> <output>`.
var DefaultLocalArgs = []string{"i", inputPlaceholder, outputPlaceholder}

type LocalOptions struct {
	Command string
	// Args may reference {input} and {output}, the paths of the photograph and
	// of the PNG the command must write.
	Args    []string
	Timeout time.Duration
}

// Local runs a segmentation model installed on this host. Each invocation
// occupies one worker of the shared pool.
type Local struct {
	command string
	args    []string
	timeout time.Duration
	pool    *pool.Pool
	logger  *slog.Logger
}

func NewLocal(opts LocalOptions, p *pool.Pool, logger *slog.Logger) *Local {
	if opts.Command == "" {
		opts.Command = DefaultLocalCommand
	}
	if len(opts.Args) == 0 {
		opts.Args = DefaultLocalArgs
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLocalTimeout
	}
	if p == nil {
		p = pool.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		command: opts.Command,
		args:    opts.Args,
		timeout: opts.Timeout,
		pool:    p,
		logger:  logger,
	}
}

func (l *Local) Name() string {
	return LocalName
}

func (l *Local) Strategy() Strategy {
	return StrategyLocal
}

func (l *Local) Available() error {
	if _, err := exec.LookPath(l.command); err != nil {
		return &errs.Error{
			Kind:     errs.KindUnavailableProvider,
			Op:       "lookup",
			Provider: LocalName,
			Message:  fmt.Sprintf("command %q not found", l.command),
			Cause:    err,
		}
	}
	return nil
}

func (l *Local) Remove(ctx context.Context, src *Source) (*image.NRGBA, error) {
	if err := l.Available(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "carstudio-rembg-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	input := filepath.Join(dir, "input."+src.Ext())
	output := filepath.Join(dir, "output.png")
	if err = os.WriteFile(input, src.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := l.expandArgs(input, output)
	err = l.pool.Do(ctx, func() error {
		out, err := exec.CommandContext(ctx, l.command, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", l.command, err, strings.TrimSpace(string(out)))
		}
		return nil
	})
	if err != nil {
		if ctxErr := errs.FromContext(ctx, "remove"); ctxErr != nil {
			return nil, errs.WithProvider(LocalName, ctxErr)
		}
		return nil, errs.WithProvider(LocalName, errs.Wrap(errs.KindUpstream, "remove", "local model failed", err))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, errs.WithProvider(LocalName, errs.Wrap(errs.KindUpstream, "remove", "local model wrote no result", err))
	}

	l.logger.Debug("local removal finished", "command", l.command, "bytes", len(data))
	return decodeSubject(LocalName, data)
}

func (l *Local) expandArgs(input, output string) []string {
	args := make([]string, len(l.args))
	for i, a := range l.args {
		a = strings.ReplaceAll(a, inputPlaceholder, input)
		args[i] = strings.ReplaceAll(a, outputPlaceholder, output)
	}
	return args
}
