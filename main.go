package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yeremiapane/omnipay-gateway/config"
	"github.com/yeremiapane/omnipay-gateway/utils"
)

func init() {
	utils.InitLogger()
	// Load .env before anything reads the environment
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Warn(".env file not found, using process environment")
	}
}

func main() {
	cfg := config.Load()
	utils.SetLevel(cfg.LogLevel)
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			utils.ErrorLogger.Error(p)
		}
		os.Exit(1)
	}
	utils.SetJWTSecret(cfg.JWTSecret)

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := newGateway(ctx, cfg, db)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to start gateway: %v", err)
	}
	gw.start()
	defer gw.stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.WithError(err).Error("error during shutdown")
	}
}
