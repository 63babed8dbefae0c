package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mossline/filterhub/internal/backup"
	"github.com/mossline/filterhub/internal/database"
	"github.com/mossline/filterhub/internal/logging"
	"github.com/mossline/filterhub/internal/push"
	"github.com/mossline/filterhub/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("FILTERHUB_LOG_LEVEL"), os.Getenv("FILTERHUB_LOG_FORMAT"))

	port := os.Getenv("FILTERHUB_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("FILTERHUB_DB_PATH")
	if dbPath == "" {
		dbPath = "filterhub.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	vapidPublic := os.Getenv("FILTERHUB_VAPID_PUBLIC_KEY")
	vapidPrivate := os.Getenv("FILTERHUB_VAPID_PRIVATE_KEY")
	if vapidPublic == "" && vapidPrivate == "" {
		// Ephemeral keys keep push working in dev; browsers re-subscribe
		// after every restart. Set real keys in production.
		vapidPublic, vapidPrivate, err = push.GenerateVAPIDKeys()
		if err != nil {
			logger.Error("generate VAPID keys", "error", err)
			os.Exit(1)
		}
		logger.Info("generated ephemeral VAPID keys")
	}

	cfg := server.Config{
		SecureCookies: os.Getenv("FILTERHUB_SECURE_COOKIES") == "true",
		VAPIDPublic:   vapidPublic,
		VAPIDPrivate:  vapidPrivate,
		PushContact:   envDefault("FILTERHUB_PUSH_CONTACT", "mailto:ops@filterhub.dev"),
		Backup: backup.Config{
			S3: backup.S3Config{
				Endpoint:  os.Getenv("FILTERHUB_S3_ENDPOINT"),
				Bucket:    os.Getenv("FILTERHUB_S3_BUCKET"),
				Region:    envDefault("FILTERHUB_S3_REGION", "us-east-1"),
				AccessKey: os.Getenv("FILTERHUB_S3_ACCESS_KEY"),
				SecretKey: os.Getenv("FILTERHUB_S3_SECRET_KEY"),
			},
			DBPath:        dbPath,
			Passphrase:    os.Getenv("FILTERHUB_BACKUP_PASSPHRASE"),
			ScheduleHour:  envInt("FILTERHUB_BACKUP_HOUR", 3),
			RetentionDays: envInt("FILTERHUB_BACKUP_RETENTION_DAYS", 30),
		},
	}

	srv := server.New(db, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	// Hourly maintenance: expired sessions and stale rate-limit entries.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("session cleanup", "error", err)
				} else if n > 0 {
					logger.Info("session cleanup", "deleted", n)
				}
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
