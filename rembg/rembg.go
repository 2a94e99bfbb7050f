// Package rembg turns a vehicle photograph into a subject with a transparent
// surround. Three interchangeable strategies are provided: a local model
// invoked as a command, a synchronous remote API and an asynchronous batch
// API that can also composite onto remote templates.
package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"strings"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util"
	nhttp "github.com/chaos-io/carstudio/util/http"
)

type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyLocal
	StrategySyncRemote
	StrategyAsyncRemote
)

func (s Strategy) String() string {
	switch s {
	case StrategyLocal:
		return "local"
	case StrategySyncRemote:
		return "removebg"
	case StrategyAsyncRemote:
		return "autobg"
	default:
		return "none"
	}
}

// ParseStrategy maps a configured provider name to a Strategy. "auto" is not
// a strategy and must be resolved by the caller first.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return StrategyNone, nil
	case "local", "rembg":
		return StrategyLocal, nil
	case "removebg", "sync":
		return StrategySyncRemote, nil
	case "autobg", "async":
		return StrategyAsyncRemote, nil
	default:
		return StrategyNone, fmt.Errorf("unknown remover strategy %q", name)
	}
}

type Remover interface {
	Name() string
	Strategy() Strategy
	// Available returns nil when the remover is configured and reachable.
	Available() error
	Remove(ctx context.Context, src *Source) (*image.NRGBA, error)
}

// Source is a decoded input photograph together with its encoded bytes.
type Source struct {
	Data   []byte
	Format string
	Image  image.Image
}

// NewSource decodes data, rejecting payloads larger than limit.
func NewSource(data []byte, limit int64) (*Source, error) {
	img, format, err := util.DecodeImage(data, limit)
	if err != nil {
		return nil, err
	}
	return &Source{Data: data, Format: format, Image: img}, nil
}

// SourceFromImage encodes img as PNG.
func SourceFromImage(img image.Image) (*Source, error) {
	data, err := util.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return &Source{Data: data, Format: "png", Image: img}, nil
}

func (s *Source) Ext() string {
	switch s.Format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	default:
		return s.Format
	}
}

func (s *Source) ContentType() string {
	switch s.Format {
	case "jpeg", "png", "webp", "gif":
		return "image/" + s.Format
	default:
		return "application/octet-stream"
	}
}

// decodeSubject decodes a provider result. A result that does not decode is
// the provider's fault, not the caller's.
func decodeSubject(provider string, data []byte) (*image.NRGBA, error) {
	img, _, err := util.DecodeImage(data, 0)
	if err != nil {
		return nil, &errs.Error{
			Kind:     errs.KindUpstream,
			Op:       "decode result",
			Provider: provider,
			Message:  "provider returned an unreadable image",
			Cause:    err,
		}
	}
	return util.ToNRGBA(img), nil
}

// classify maps a transport failure to the error taxonomy.
func classify(ctx context.Context, provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := errs.FromContext(ctx, op); ctxErr != nil {
		return errs.WithProvider(provider, ctxErr)
	}

	kind := errs.KindUpstream
	var statusErr *nhttp.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		kind = kindOfStatus(statusErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = errs.KindTimeout
	}

	return &errs.Error{Kind: kind, Op: op, Provider: provider, Message: "request failed", Cause: err}
}

func kindOfStatus(code int) errs.Kind {
	switch code {
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return errs.KindQuotaExceeded
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return errs.KindInvalidImage
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.KindUnavailableProvider
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errs.KindTimeout
	default:
		return errs.KindUpstream
	}
}
