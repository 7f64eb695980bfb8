// fanout-worker consumes send jobs and delivers them through the channel
// adapters configured via the environment.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/channel/email"
	"github.com/ignite/fanout/channel/firebase"
	"github.com/ignite/fanout/channel/telegram"
	"github.com/ignite/fanout/channel/webpush"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/logging"
	"github.com/ignite/fanout/metrics"
	"github.com/ignite/fanout/stats"
	"github.com/ignite/fanout/store"
	"github.com/ignite/fanout/worker"
)

type config struct {
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	QueueName   string `envconfig:"QUEUE_NAME" default:"notifications"`
	Concurrency int    `envconfig:"CONCURRENCY" default:"10"`
	TrackingKey string `envconfig:"TRACKING_KEY"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	EmailFrom     string `envconfig:"EMAIL_FROM"`
	SMTPHost      string `envconfig:"SMTP_HOST"`
	SMTPPort      int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername  string `envconfig:"SMTP_USERNAME"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	SMTPStartTLS  bool   `envconfig:"SMTP_STARTTLS" default:"true"`
	SMTPPoolSize  int    `envconfig:"SMTP_POOL_SIZE" default:"5"`

	FirebaseCredentials string `envconfig:"FIREBASE_CREDENTIALS"`

	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT_EMAIL"`
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	registry := channel.NewRegistry(logger)
	closers := registerAdapters(&cfg, registry, logger)
	if len(registry.List()) == 0 {
		logger.Fatal("no channel adapters configured")
	}
	logger.Info("channels registered", zap.Strings("channels", registry.List()))

	m := metrics.New()
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	trackingKey := cfg.TrackingKey
	if trackingKey == "" {
		trackingKey = stats.DefaultTrackingKey
	}

	mgr, err := worker.Start(context.Background(), worker.Config{
		Store:       &store.Options{URL: cfg.RedisURL},
		QueueName:   cfg.QueueName,
		Registry:    registry,
		Concurrency: cfg.Concurrency,
		TrackingKey: trackingKey,
		Callbacks: worker.Callbacks{
			OnDrained: func(logger *zap.Logger) {
				logger.Info("all queued notifications delivered")
			},
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	mgr.Close()
	for _, close := range closers {
		close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
}

// registerAdapters builds every adapter whose configuration is present and
// returns their close functions.
func registerAdapters(cfg *config, registry *channel.Registry, logger *zap.Logger) []func() {
	var closers []func()

	if cfg.SMTPHost != "" && cfg.EmailFrom != "" {
		transport, err := email.NewSMTPTransport(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			StartTLS: cfg.SMTPStartTLS,
			PoolSize: cfg.SMTPPoolSize,
		})
		if err != nil {
			logger.Fatal("failed to build smtp transport", zap.Error(err))
		}
		adapter, err := email.New(email.Config{From: cfg.EmailFrom, Transport: transport}, logger)
		if err != nil {
			logger.Fatal("failed to build email adapter", zap.Error(err))
		}
		registry.Register(job.ChannelEmail, adapter)
		closers = append(closers, adapter.Close, transport.Close)
	}

	if cfg.FirebaseCredentials != "" {
		handle, err := firebase.Init(firebase.Credentials{Path: cfg.FirebaseCredentials})
		if err != nil {
			logger.Fatal("failed to initialize push credentials", zap.Error(err))
		}
		adapter, err := firebase.New(firebase.Config{Handle: handle}, logger)
		if err != nil {
			logger.Fatal("failed to build push adapter", zap.Error(err))
		}
		registry.Register(job.ChannelFirebase, adapter)
		closers = append(closers, adapter.Close)
	}

	if cfg.TelegramToken != "" {
		adapter, err := telegram.New(telegram.Config{Token: cfg.TelegramToken}, logger)
		if err != nil {
			logger.Fatal("failed to build telegram adapter", zap.Error(err))
		}
		registry.Register(job.ChannelTelegram, adapter)
		closers = append(closers, adapter.Close)
	}

	if cfg.VAPIDPublicKey != "" {
		if err := webpush.SetVAPID(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDContact); err != nil {
			logger.Fatal("failed to set vapid details", zap.Error(err))
		}
		adapter, err := webpush.New(webpush.Config{}, logger)
		if err != nil {
			logger.Fatal("failed to build web-push adapter", zap.Error(err))
		}
		registry.Register(job.ChannelWeb, adapter)
		closers = append(closers, adapter.Close)
	}

	return closers
}
