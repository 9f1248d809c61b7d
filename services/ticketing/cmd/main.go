package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/config"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/utils"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/app"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "ticketing-service", cfg.Env, cfg.Tracing.Endpoint, cfg.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to init tracer: %v", err)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build ticketing app", zap.Error(err))
	}

	if err := application.Start(ctx); err != nil {
		logger.Fatal("Failed to start ticketing app", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", application.Metrics.HTTPHandler())
			log.Printf("Metrics server is listening on %s\n", cfg.Metrics.Port)

			if err := http.ListenAndServe(cfg.Metrics.Port, mux); err != nil {
				log.Printf("Metrics serving failed: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("HTTP service listening", zap.String("port", cfg.HTTP.Port))
		if err := application.HTTP.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening on HTTP port", zap.String("port", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.HTTP.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP app: %v\n", err)
	} else {
		log.Println("HTTP App stopped gracefully")
	}

	if err := application.Close(shutdownCtx); err != nil {
		log.Printf("Error stopping ticketing app: %v\n", err)
	} else {
		log.Println("Ticketing workers stopped")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down telemetry: %v\n", err)
	} else {
		log.Println("Telemetry stopped correctly")
	}
}
