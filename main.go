package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mercaline/market-chat-api/api/handlers"

	"go.uber.org/zap"

	"github.com/mercaline/market-chat-api/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	a := handlers.App{}
	a.Config = *config.New()

	if err := a.Initialize(); err != nil {
		log.Fatal(err)
	}

	port := os.Getenv("PORT")
	baseURL := os.Getenv("BASE_URL")

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%v", port),
		Handler: a.Router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	zap.S().Infow("market-chat-api is up and running",
		"port", port,
		"url", baseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	zap.S().Info("market-chat-api is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("http server shutdown failed", "error", err)
	}
	a.Shutdown()
	zap.S().Info("market-chat-api stopped")
}
