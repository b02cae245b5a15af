package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tracefold/chipline/internal/config"
	"github.com/tracefold/chipline/internal/ledger"
	"github.com/tracefold/chipline/internal/pipeline"
	"github.com/tracefold/chipline/internal/policy"
	"github.com/tracefold/chipline/internal/receipt"
	"github.com/tracefold/chipline/internal/secrets"
	"github.com/tracefold/chipline/internal/store"
)

// Runtime is the wired service graph every command runs against.
// Built once per invocation from config; Close releases the store.
type Runtime struct {
	Config  *config.Config
	Store   *store.Store
	Ledger  *ledger.Ledger
	Secrets *secrets.Manager
	Ruleset *policy.Ruleset
	Chain   *receipt.Chain
	Engine  *pipeline.Engine
	Logger  *slog.Logger

	prunerCancel context.CancelFunc // nil when no background pruner runs
	prunerDone   <-chan struct{}
}

// openRuntime loads config, opens the store, restores the stage
// secret, compiles the policy, and wires the engine. Fails closed:
// any piece that cannot come up aborts the command.
func openRuntime(ctx context.Context, opts *RootOptions) (*Runtime, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading config", err)
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Policy != "" {
		cfg.PolicyPath = opts.Policy
	}

	logger := newLogger(cfg.LogLevel, opts.Verbose)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening database", err)
	}

	mode := ledger.Strict
	if cfg.Nonce.Mode == "degraded" {
		mode = ledger.Degraded
	}
	lg := ledger.New(st,
		ledger.WithTTL(cfg.Nonce.TTL.Std()),
		ledger.WithMode(mode),
		ledger.WithLogger(logger))

	sm := secrets.NewManager(st, secrets.WithLogger(logger))
	if err := sm.Load(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "loading stage secret", err)
	}

	rs, err := loadRuleset(cfg.PolicyPath)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "loading policy", err)
	}

	chain := receipt.NewChain(st, logger)
	engine := pipeline.New(lg, sm, rs, chain,
		pipeline.WithLogger(logger),
		pipeline.WithFuelBudget(cfg.FuelBudget),
		pipeline.WithMaxBytes(cfg.MaxEnvelopeBytes))

	rt := &Runtime{
		Config:  cfg,
		Store:   st,
		Ledger:  lg,
		Secrets: sm,
		Ruleset: rs,
		Chain:   chain,
		Engine:  engine,
		Logger:  logger,
	}
	if interval := cfg.Nonce.PruneInterval.Std(); interval > 0 {
		rt.startPruner(interval)
	}
	return rt, nil
}

// startPruner runs the ledger's background pruner for the runtime's
// lifetime. One-shot commands tear it down in Close before it ever
// ticks; embedders holding a Runtime get continuous reclamation.
func (r *Runtime) startPruner(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	r.prunerCancel = cancel
	r.prunerDone = r.Ledger.StartPruner(ctx, interval)
}

// Close releases the runtime's resources.
func (r *Runtime) Close() {
	if r.prunerCancel != nil {
		r.prunerCancel()
		<-r.prunerDone
	}
	if err := r.Store.Close(); err != nil {
		r.Logger.Error("error closing database", "error", err)
	}
}

// loadRuleset compiles the configured policy, or falls back to the
// built-in deny-everything ruleset when none is configured.
func loadRuleset(path string) (*policy.Ruleset, error) {
	if path == "" {
		return policy.NewRuleset("builtin-deny", policy.OutcomeDeny, nil)
	}
	rs, err := policy.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return rs, nil
}

// newLogger configures the process-wide slog default.
func newLogger(level string, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
