package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Toobanaz/ai-audience-mentor/internal/api"
	"github.com/Toobanaz/ai-audience-mentor/internal/batcher"
	"github.com/Toobanaz/ai-audience-mentor/internal/bus"
	"github.com/Toobanaz/ai-audience-mentor/internal/coach"
	"github.com/Toobanaz/ai-audience-mentor/internal/config"
	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
	"github.com/Toobanaz/ai-audience-mentor/internal/metrics"
	slackalert "github.com/Toobanaz/ai-audience-mentor/internal/slack"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("ai-audience-mentor starting",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"nats_url", cfg.NatsURL,
		"flush_interval", cfg.BatchFlushInterval,
		"flush_threshold", cfg.BatchFlushThreshold,
		"buffer_max", cfg.BufferMaxSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to NATS when configured.
	var b *bus.Bus
	if cfg.NatsURL != "" {
		b, err = bus.Connect(cfg.NatsURL)
		if err != nil {
			return err
		}
		defer b.Close()
		slog.Info("NATS connected")
	}

	// Step 2: Open the session store.
	db, err := openStore(ctx, cfg, b)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("store ready", "backend", cfg.StoreBackend)

	// Step 3: Metrics and the turn event batcher.
	m := metrics.New(nil)
	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	}, metrics.NewProcessor(m))

	var alerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}
	bat.SetAlertPublisher(pipelineAlerts(b, alerter))
	bat.Start(ctx)
	go m.WatchBuffer(ctx, bat.BufferLen, 5*time.Second)

	// Step 4: Route turn events through the bus.
	var publish func(subject string, data []byte) error
	var recorder *coach.BusRecorder
	if b != nil {
		if err := b.Start(ctx, bat); err != nil {
			return err
		}
		publish = b.Publish
		recorder = coach.NewBusRecorder(b, bat)
	} else {
		recorder = coach.NewBusRecorder(nil, bat)
	}

	// Step 5: Collaborators and the coach service.
	asm, err := newAssembler(cfg, publish)
	if err != nil {
		return err
	}
	model, err := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		APIVersion: cfg.LLMAPIVersion,
		Timeout:    cfg.LLMTimeout,
	})
	if err != nil {
		return err
	}
	deps := coach.Deps{
		Store:       db,
		Transcriber: asm,
		Completer:   model,
		Recorder:    recorder,
		Publish:     publish,
	}
	if alerter != nil {
		deps.Alerter = alerter
	}
	svc := coach.New(deps)

	// Step 6: Start HTTP API.
	srv := api.NewServer(svc, db, bat, m, cfg.Port, cfg.MaxUploadBytes)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if b != nil {
		if err := b.Publish("mentor.system.registered", registration(cfg.Port)); err != nil {
			slog.Warn("failed to publish registration event", "error", err)
		}
	}
	slog.Info("ai-audience-mentor ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	bat.Wait()
	slog.Info("ai-audience-mentor stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, b *bus.Bus) (store.DataStore, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case config.BackendSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	case config.BackendNATS:
		if b == nil {
			return nil, fmt.Errorf("store backend %q requires NATS_URL", cfg.StoreBackend)
		}
		return store.NewKV(ctx, b.JetStream(), cfg.NatsKVPrefix)
	default:
		return store.NewMemory(), nil
	}
}

// pipelineAlerts fans batcher alerts out to NATS and Slack. Either may be nil.
func pipelineAlerts(b *bus.Bus, alerter *slackalert.Alerter) func(subject string, data []byte) error {
	return func(subject string, data []byte) error {
		var firstErr error
		if b != nil {
			if err := b.Publish(subject, data); err != nil {
				firstErr = fmt.Errorf("publish alert: %w", err)
			}
		}
		if alerter != nil {
			if err := alerter.PostPipelineAlert(subject, data); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("post alert: %w", err)
			}
		}
		return firstErr
	}
}

// registration is announced once the API is up.
func registration(port int) []byte {
	data, _ := json.Marshal(map[string]any{
		"event_type": "service.registered",
		"source":     "ai-audience-mentor",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metadata":   map[string]any{"port": port},
	})
	return data
}
