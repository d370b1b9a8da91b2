package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kwv/anchormesh/registry"
)

// Application is what the commands drive. App implements it; tests swap in
// a mock.
type Application interface {
	RunService(ctx context.Context) error
	Inspect(ctx context.Context, w io.Writer, asJSON bool) error
	Render(ctx context.Context, w io.Writer, format string) error
	Close() error
}

// AppFactory builds an Application from a loaded configuration.
type AppFactory func(config *registry.Config, logger *zap.Logger) (Application, error)

func newApplication(config *registry.Config, logger *zap.Logger) (Application, error) {
	return NewApp(config, logger)
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool

	logger *zap.Logger
}

// NewRootCommand creates the anchormesh command tree.
func NewRootCommand(factory AppFactory) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "anchormesh",
		Short:         "Persistent geometry registry bound to world anchors",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.Verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts, factory))
	cmd.AddCommand(newInspectCommand(opts, factory))
	cmd.AddCommand(newRenderCommand(opts, factory))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// newLogger returns a production logger, or a development logger at debug
// level when verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return config.Build()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return config.Build()
}

// loadConfig reads the config file. A missing file is only an error when the
// path was given explicitly; otherwise defaults apply.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*registry.Config, error) {
	if _, err := os.Stat(o.ConfigFile); os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		o.logger.Info("no config file, using defaults", zap.String("path", o.ConfigFile))
		config := registry.DefaultConfig()
		config.ApplyEnv()
		return config, config.Validate()
	}
	config, err := registry.LoadConfig(o.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (looked at %s)", err, o.ConfigFile)
	}
	o.logger.Info("loaded config", zap.String("path", o.ConfigFile))
	return config, nil
}

func (o *RootOptions) withApp(cmd *cobra.Command, factory AppFactory, configure func(*registry.Config), run func(Application) error) error {
	config, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	if configure != nil {
		configure(config)
	}
	app, err := factory(config, o.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			o.logger.Warn("closing app", zap.Error(err))
		}
	}()
	return run(app)
}

func newServeCommand(opts *RootOptions, factory AppFactory) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation service (MQTT + HTTP)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			configure := func(c *registry.Config) {
				if cmd.Flags().Changed("port") {
					c.HTTP.Port = port
				}
			}
			return opts.withApp(cmd, factory, configure, func(app Application) error {
				return app.RunService(ctx)
			})
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port (overrides config)")
	return cmd
}

func newInspectCommand(opts *RootOptions, factory AppFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the saved registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, factory, nil, func(app Application) error {
				return app.Inspect(cmd.Context(), cmd.OutOrStdout(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func newRenderCommand(opts *RootOptions, factory AppFactory) *cobra.Command {
	var (
		output string
		format string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a top-down overview of the saved registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(output), ".")
			}
			if format != "svg" && format != "png" {
				return fmt.Errorf("invalid format %q: must be svg or png", format)
			}
			return opts.withApp(cmd, factory, nil, func(app Application) error {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				if err := app.Render(cmd.Context(), f, format); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("closing %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved overview to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "overview.svg", "output file")
	cmd.Flags().StringVar(&format, "format", "", "svg or png (default: from the output extension)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anchormesh version: %s\n", Version)
		},
	}
}
