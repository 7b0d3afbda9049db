// Package cli implements the drawerstore command line: project, session,
// capture, museum, user and catalog commands over one project directory.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"drawerstore/internal/blob"
	"drawerstore/internal/capture"
	"drawerstore/internal/config"
	"drawerstore/internal/core"
	"drawerstore/internal/fsutil"
	"drawerstore/pkg/domain"
)

// RootOptions holds global flags for all commands and the state resolved
// from them before a subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Root       string
	Trace      bool

	// Getenv reads configuration overrides; os.Getenv when nil.
	Getenv func(string) string

	Config config.Config
	Logger *slog.Logger

	expvar     *core.ExpvarMetricsRecorder
	prometheus *prometheus.Registry
	metrics    core.MetricsRecorder
	tracer     core.Tracer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the drawerstore CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Getenv: os.Getenv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawerstore",
		Short: "drawerstore - specimen drawer imaging projects",
		Long: `Manage specimen drawer imaging projects on disk.

A project directory holds the capture sessions, the JPEG captures with their
YAML sidecars, the captures.csv ledger, the museum registry and the
encrypted credential vault.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.flushMetrics()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default ./"+config.DefaultFileName+" when present)")
	cmd.PersistentFlags().StringVarP(&opts.Root, "root", "C", "", "project directory (overrides root from configuration)")
	cmd.PersistentFlags().BoolVar(&opts.Trace, "trace", false, "write JSON operation traces to stderr")

	cmd.AddCommand(NewProjectCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewMuseumCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

// resolve loads the configuration and builds the logger, metrics recorder
// and tracer shared by every project handle the command opens.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath, o.Getenv)
	if err != nil {
		_ = o.formatter(cmd).Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if o.Root != "" {
		cfg.Root = o.Root
	}
	o.Config = cfg

	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	switch cfg.Metrics {
	case config.MetricsExpvar:
		o.expvar = core.NewExpvarMetricsRecorder("")
		o.metrics = o.expvar
	case config.MetricsPrometheus:
		o.prometheus = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(o.prometheus)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		o.metrics = rec
	}
	if o.Trace {
		o.tracer = core.NewJSONTracer(cmd.ErrOrStderr())
	}
	return nil
}

func (o *RootOptions) flushMetrics() error {
	path := o.Config.MetricsFile
	if path == "" {
		return nil
	}
	switch {
	case o.expvar != nil:
		return fsutil.WriteJSON(path, o.expvar.Snapshot())
	case o.prometheus != nil:
		return prometheus.WriteToTextfile(path, o.prometheus)
	}
	return nil
}

func (o *RootOptions) projectOptions() []core.Option {
	cfg := o.Config
	return []core.Option{
		core.WithLogger(o.Logger),
		core.WithMetricsRecorder(o.metrics),
		core.WithTracer(o.tracer),
		core.WithBlobStore(func(root string) (blob.Store, error) {
			return blob.Open(cfg.BlobDriver, root)
		}),
		core.WithEncoder(capture.JPEGEncoder{Quality: cfg.JPEGQuality}),
		core.WithMuseumEditKeying(cfg.EditKeying()),
		core.WithLockTimeout(cfg.LockTimeout.Duration),
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) createProject(ctx context.Context, info domain.ProjectInfo) (*core.Project, error) {
	return core.CreateProject(ctx, o.Config.Root, info, o.projectOptions()...)
}

// withProject opens the configured project, runs fn and closes the handle.
func (o *RootOptions) withProject(cmd *cobra.Command, fn func(ctx context.Context, p *core.Project, f *OutputFormatter) error) error {
	f := o.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f.VerboseLog("opening project %s", o.Config.Root)
	p, err := core.LoadProject(ctx, o.Config.Root, o.projectOptions()...)
	if err != nil {
		return f.Fail(err)
	}
	defer func() { _ = p.Close() }()
	return fn(ctx, p, f)
}
