// main.go - The entry point and router setup.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosocmputer/prescription_ocr_gemini/configs"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/api"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/bootstrap"
	"github.com/bosocmputer/prescription_ocr_gemini/internal/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Step 0: Load configuration from environment variables
	configs.LoadConfig()

	if ginMode := os.Getenv("GIN_MODE"); ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Step 1: Create the UPLOAD_DIR folder if it doesn't exist
	if err := os.MkdirAll(configs.UPLOAD_DIR, 0755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	// Step 2: Wire catalogue, recognizer and AI fallback
	app, err := bootstrap.New()
	if err != nil {
		log.Fatalf("Failed to initialize analyzer: %v", err)
	}
	defer app.Close()
	logger := common.Logger()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		app.Warmup(ctx)
	}()

	// Step 3: Initialize the Gin router
	router := gin.New()
	router.Use(gin.Recovery(), api.AccessLog(), api.CORS(configs.ALLOWED_ORIGINS))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	handler := api.NewHandler(app.Analyzer, configs.UPLOAD_DIR, configs.MAX_UPLOAD_BYTES, app.Catalogue.Loaded)
	handler.RegisterRoutes(router)

	// Step 4: Setup HTTP server with timeouts
	srv := &http.Server{
		Addr:           ":" + configs.PORT,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   3 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("port", configs.PORT),
			zap.Strings("endpoints", []string{
				"POST /api/v1/prescriptions/analyze",
				"POST /api/v1/prescriptions/analyze-text",
				"GET /health",
				"GET /metrics",
			}),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server exited")
}
