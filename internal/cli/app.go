package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/ncflow/internal/compiler"
	"github.com/roach88/ncflow/internal/config"
	"github.com/roach88/ncflow/internal/engine"
	"github.com/roach88/ncflow/internal/notify"
	"github.com/roach88/ncflow/internal/policy"
	"github.com/roach88/ncflow/internal/store"
	"github.com/roach88/ncflow/internal/telemetry"
)

// Version is reported to telemetry as the service version.
var Version = "dev"

// App is the wiring shared by commands that touch the database.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Engine    *engine.Engine
	Out       *OutputFormatter
	RequestID string

	opts *RootOptions
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// VerboseLog writes a diagnostic line to stderr when --verbose is set.
func (o *RootOptions) VerboseLog(cmd *cobra.Command, format string, args ...any) {
	o.formatter(cmd).VerboseLog(format, args...)
}

// loadConfig resolves the configuration from defaults, the --config file,
// NCFLOW_* environment and bound flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Viper, o.ConfigFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// loadSettings compiles the policy document, or returns the defaults.
func loadSettings(cfg config.Config) (policy.Settings, error) {
	if cfg.PolicyFile == "" {
		return policy.DefaultSettings(), nil
	}
	settings, err := compiler.CompileFile(cfg.PolicyFile)
	if err != nil {
		return policy.Settings{}, WrapExitError(ExitCommandError, "failed to load policy "+cfg.PolicyFile, err)
	}
	return settings, nil
}

// openApp loads configuration and policy, opens the store and builds the
// engine. Callers must Close the returned App.
func openApp(cmd *cobra.Command, opts *RootOptions) (app *App, err error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr(), opts.Verbose)

	if err := telemetry.Init(cmd.Context(), telemetry.Options{
		Enabled:     cfg.TelemetryEnabled,
		ServiceName: "ncflow",
		Version:     Version,
		Writer:      cmd.ErrOrStderr(),
	}); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize telemetry", err)
	}
	defer func() {
		if err != nil {
			_ = shutdownTelemetry()
		}
	}()

	settings, err := loadSettings(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.NotifyTimeout))
	}

	eng, err := engine.New(engine.Config{
		Store:     st,
		Directory: st,
		Recorder:  st,
		Notifier:  notifiers,
		Settings:  settings,
	},
		engine.WithLogger(logger),
		engine.WithNotifyTimeout(cfg.NotifyTimeout),
		engine.WithSweepConcurrency(cfg.SweepConcurrency),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	app = &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Engine:    eng,
		Out:       opts.formatter(cmd),
		RequestID: uuid.NewString(),
		opts:      opts,
	}
	logger.Debug("opened database", "path", cfg.DatabasePath, "request_id", app.RequestID)
	return app, nil
}

// Close waits for in-flight notification deliveries, flushes telemetry and
// closes the store. Deliveries still running after the notify timeout stay
// in the outbox for the next sweep.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.NotifyTimeout+time.Second)
	defer cancel()
	if err := a.Engine.Drain(ctx); err != nil {
		a.Logger.Warn("notification deliveries still running at exit; sweep will retry", "error", err)
	}
	return errors.Join(shutdownTelemetry(), a.Store.Close())
}

func shutdownTelemetry() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return telemetry.Shutdown(ctx)
}

// Request returns the request context for the acting user.
func (a *App) Request() engine.RequestContext {
	return engine.RequestContext{
		ActorID:   a.opts.As,
		Tenant:    a.Config.Tenant,
		RequestID: a.RequestID,
	}
}

// RequireActor fails unless --as names the acting user.
func (a *App) RequireActor() error {
	if a.opts.As == "" {
		return NewExitError(ExitCommandError, "--as is required: name the user performing the operation")
	}
	return nil
}

// Gate runs the lockout check for op on behalf of the acting user.
func (a *App) Gate(ctx context.Context, op string) error {
	if err := a.RequireActor(); err != nil {
		return err
	}
	if err := a.Engine.Gate(ctx, a.opts.As, op); err != nil {
		a.Logger.Info("operation gated", "actor", a.opts.As, "op", op, "error", err)
		return a.Out.EngineError(err)
	}
	return nil
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) (err error) {
	app, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to close", cerr)
		}
	}()
	return fn(cmd.Context(), app)
}
