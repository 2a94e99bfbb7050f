package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chaos-io/carstudio/backdrop"
	"github.com/chaos-io/carstudio/compose"
	"github.com/chaos-io/carstudio/config"
	"github.com/chaos-io/carstudio/pipeline"
	"github.com/chaos-io/carstudio/server"
	"github.com/chaos-io/carstudio/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

// setup loads configuration and installs the default logger.
func (o *rootOptions) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger := util.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	util.SetMaxPixels(cfg.Limits.MaxPixels)
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "carstudio",
		Short: "Carstudio turns vehicle photographs into studio shots",
		Long: `Carstudio removes the background of a vehicle photograph and composites the
vehicle onto a showroom, studio, garage or outdoor backdrop.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml or $CARSTUDIO_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newProcessCmd(opts))
	rootCmd.AddCommand(newBackgroundsCmd(opts))
	return rootCmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the image API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if err = a.sweeper.Start(); err != nil {
				return err
			}
			defer a.sweeper.Stop()

			srv, err := server.New(server.Options{
				Pipeline:      a.pipeline,
				Backgrounds:   a.backgrounds,
				Artifacts:     a.artifacts,
				MaxUpload:     cfg.Limits.MaxUpload,
				MaxBackground: cfg.Limits.MaxBackground,
				Debug:         cfg.Log.Level == "debug",
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var (
		background    string
		backgroundURL string
		removeOnly    bool
		scale         float64
		position      string
		offset        float64
		shadow        bool
		reflection    bool
	)

	cmd := &cobra.Command{
		Use:   "process <image_path_or_url> [output_path]",
		Short: "Process one photograph and print the resulting artifacts",
		Long: `Remove the background of a photograph and composite it onto a background.
The result is printed as JSON; when output_path is given the final image is
also written there.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			in, err := inputOf(args[0])
			if err != nil {
				return err
			}

			var res *pipeline.Result
			if removeOnly {
				res, err = a.pipeline.RemoveBackground(ctx, in)
			} else {
				req := pipeline.Request{Input: in, Background: background, BackgroundURL: backgroundURL}
				if flags := cmd.Flags(); flags.Changed("scale") || flags.Changed("position") || flags.Changed("offset") ||
					flags.Changed("shadow") || flags.Changed("reflection") {
					p, err := a.params(background)
					if err != nil {
						return err
					}
					p.Scale = scale
					p.Position = compose.ParsePosition(position)
					p.VerticalOffset = offset
					if flags.Changed("shadow") {
						p.Shadow.Enabled = shadow
					}
					p.Reflection.Enabled = reflection
					req.Params = &p
				}
				res, err = a.pipeline.Process(ctx, req)
			}
			if err != nil {
				return err
			}

			if len(args) > 1 {
				if err = a.save(ctx, res, args[1]); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&background, "background", "b", pipeline.DefaultBackground, "background id")
	cmd.Flags().StringVar(&backgroundURL, "background-url", "", "composite onto the image at this URL instead")
	cmd.Flags().BoolVar(&removeOnly, "remove-only", false, "only remove the background")
	cmd.Flags().Float64Var(&scale, "scale", 0, "subject width as a fraction of the canvas, 0.1 or less picks automatically")
	cmd.Flags().StringVarP(&position, "position", "p", string(compose.PositionCenter), "horizontal position (left|center|right)")
	cmd.Flags().Float64Var(&offset, "offset", 0, "vertical offset as a fraction of the canvas height")
	cmd.Flags().BoolVar(&shadow, "shadow", false, "draw a drop shadow, defaults to the background's suggestion")
	cmd.Flags().BoolVar(&reflection, "reflection", false, "draw a floor reflection")
	return cmd
}

func inputOf(arg string) (pipeline.Input, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return pipeline.Input{URL: arg}, nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("read input: %w", err)
	}
	return pipeline.Input{Data: data}, nil
}

func (a *app) params(background string) (compose.Params, error) {
	if background == "" {
		background = pipeline.DefaultBackground
	}
	spec, err := a.backgrounds.Get(background)
	if err != nil {
		return compose.Params{}, err
	}
	return pipeline.ParamsFor(spec), nil
}

// save copies the final image, or the transparent one for remove-only runs,
// to path.
func (a *app) save(ctx context.Context, res *pipeline.Result, path string) error {
	out := res.Final
	if out == nil {
		out = res.Transparent
	}
	if out == nil {
		return fmt.Errorf("result %s has no image", res.ID)
	}

	data, _, err := a.artifacts.Get(ctx, out.Key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	a.logger.Info("saved result", "path", path, "key", out.Key)
	return nil
}

func newBackgroundsCmd(opts *rootOptions) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "backgrounds",
		Short: "List the available backgrounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			store, err := backdrop.NewStore(cfg.Canvas.Width, cfg.Canvas.Height,
				backdrop.WithDir(cfg.Backgrounds.Dir),
				backdrop.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			specs := store.List()
			if category != "" {
				c, err := backdrop.ParseCategory(category)
				if err != nil {
					return err
				}
				specs = store.ByCategory(c)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tCATEGORY\tKIND\tSHADOW\tNAME")
			for _, s := range specs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", s.ID, s.Category, s.Recipe.Kind(), s.Defaults.Shadow, s.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list this category (studio|showroom|garage|outdoor|custom)")
	return cmd
}
