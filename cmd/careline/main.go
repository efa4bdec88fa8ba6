package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carelinehq/careline/internal/config"
	"github.com/carelinehq/careline/internal/consult"
	"github.com/carelinehq/careline/internal/gateway"
	"github.com/carelinehq/careline/internal/httpapi"
	"github.com/carelinehq/careline/internal/intake"
	"github.com/carelinehq/careline/internal/observability"
	"github.com/carelinehq/careline/internal/persona"
	"github.com/carelinehq/careline/internal/speech"
	"github.com/carelinehq/careline/internal/store"
	"github.com/carelinehq/careline/internal/triage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	sessionStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer sessionStore.Close()

	adapter, err := gateway.NewAdapter(gateway.Config{
		Mode:          cfg.GatewayMode,
		APIKey:        cfg.OpenAIAPIKey,
		BaseURL:       cfg.OpenAIBaseURL,
		Model:         cfg.OpenAIModel,
		FallbackModel: cfg.OpenAIFallbackModel,
	})
	if err != nil {
		log.Fatalf("gateway adapter init failed: %v", err)
	}

	var synth speech.Synthesizer
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		synth = speech.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
		log.Printf("speech provider: elevenlabs")
	} else {
		synth = speech.NewNoopSynthesizer()
		log.Printf("speech provider: none")
	}

	personas := persona.NewRegistry()
	classifier := triage.NewClassifier()

	orchestrator := consult.NewOrchestrator(adapter, personas, classifier, sessionStore, metrics, consult.Policy{
		MaxTurns:          cfg.MaxSessionTurns,
		GatewayTimeout:    cfg.GatewayTimeout,
		InactivityTimeout: cfg.SessionInactivityTimeout,
	})
	summaries := intake.NewService(adapter, personas, cfg.GatewayTimeout)

	api := httpapi.New(cfg, orchestrator, summaries, synth, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	orchestrator.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
