package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/chorus/configs"
	"github.com/user/chorus/internal/api"
	"github.com/user/chorus/internal/config"
	"github.com/user/chorus/internal/db"
	"github.com/user/chorus/internal/observability"
	"github.com/user/chorus/internal/orchestrator"
	"github.com/user/chorus/internal/persona"
	"github.com/user/chorus/internal/registry"
	"github.com/user/chorus/internal/seat"
)

type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Registry
	database   *db.DB
	constructs *registry.Registry
	invoker    *seat.Invoker
	engine     *orchestrator.Engine
	chat       *api.ChatService

	shutdownTracing func(context.Context) error
}

func wireApp(cmd *cobra.Command, v *viper.Viper) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	if err := ensureSeatsFile(cfg.SeatsFile); err != nil {
		return nil, fmt.Errorf("wire seats file: %w", err)
	}
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire seat transport: %w", err)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		// The invoker reads zero as "use the default".
		maxRetries = -1
	}
	invoker := seat.NewInvoker(seat.InvokerOptions{
		Transport: transport,
		Resolver:  seat.NewResolver(seat.ResolverOptions{Path: cfg.SeatsFile, Logger: logger}),
		Policy:    seat.RetryPolicy{MaxRetries: maxRetries, RetryOnTimeout: cfg.RetryOnTimeout},
		Timeout:   cfg.SeatTimeout,
		Logger:    logger,
	})

	constructs, err := registry.NewRegistry(cfg.ConstructsDir)
	if err != nil {
		return nil, fmt.Errorf("wire construct registry: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingOptions{
		Service:  "chorus",
		Exporter: cfg.TraceExporter,
		Writer:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("wire tracing: %w", err)
	}

	database, err := db.Open(cmd.Context(), cfg.DBPath)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("wire database: %w", err)
	}
	exchanges := db.NewExchangeRepo(database.SQL())
	violations := db.NewViolationRepo(database.SQL())

	metrics := observability.NewRegistry()
	engine, err := orchestrator.New(orchestrator.Options{
		Invoker:          invoker,
		Anchors:          persona.NewAnchorBuilder(constructs, logger),
		History:          historySource(exchanges),
		Violations:       violationSink(violations),
		Metrics:          metrics,
		Logger:           logger,
		DefaultMode:      orchestrator.Mode(cfg.Mode),
		RequestTimeout:   cfg.RequestTimeout,
		SeatTimeout:      cfg.SeatTimeout,
		SynthesisTimeout: cfg.SynthesisTimeout,
		FallbackTimeout:  cfg.FallbackTimeout,
		SummaryTimeout:   cfg.SummaryTimeout,
		ContextBudget:    cfg.ContextBudget,
	})
	if err != nil {
		_ = database.Close()
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("wire engine: %w", err)
	}

	return &app{
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		database:        database,
		constructs:      constructs,
		invoker:         invoker,
		engine:          engine,
		chat:            api.NewChatService(engine, exchanges, cfg.RetainExchanges, logger),
		shutdownTracing: shutdownTracing,
	}, nil
}

func (a *app) Close() error {
	var errs []error
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(context.Background()))
	}
	if a.database != nil {
		errs = append(errs, a.database.Close())
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newTransport(cfg *config.Config) (seat.Transport, error) {
	switch cfg.Transport {
	case config.TransportCommand:
		return seat.NewCommandTransport(cfg.BridgeCommand)
	default:
		return seat.NewHTTPTransport(cfg.ModelHost, &http.Client{}), nil
	}
}

// ensureSeatsFile writes the shipped seat mapping when path does not exist.
func ensureSeatsFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, configs.SeatDefaults, 0o644)
}

func historySource(repo *db.ExchangeRepo) orchestrator.HistorySourceFunc {
	return func(ctx context.Context, userID, threadID string, limit int) ([]orchestrator.Turn, error) {
		stored, err := repo.RecentTurns(ctx, userID, threadID, limit)
		if err != nil {
			return nil, err
		}
		turns := make([]orchestrator.Turn, 0, len(stored))
		for _, t := range stored {
			turns = append(turns, orchestrator.Turn{Role: t.Role, Content: t.Content, At: t.CreatedAt})
		}
		return turns, nil
	}
}

func violationSink(repo *db.ViolationRepo) persona.ViolationSinkFunc {
	return func(ctx context.Context, v persona.Violation) error {
		return repo.Record(ctx, &db.Violation{
			ConstructID: v.ConstructID,
			UserID:      v.UserID,
			Pattern:     v.Pattern,
			Excerpt:     v.Excerpt,
		})
	}
}
