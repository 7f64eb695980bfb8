// fanout-dispatch pages recipients out of Postgres and enqueues send jobs
// for the workers. One run dispatches one campaign.
package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ignite/fanout/dispatch"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/logging"
	"github.com/ignite/fanout/queue"
	"github.com/ignite/fanout/store"
)

type config struct {
	RedisURL    string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// PageQuery must select (recipient) and take OFFSET $1 LIMIT $2.
	PageQuery string `envconfig:"PAGE_QUERY" required:"true"`

	QueueName  string `envconfig:"QUEUE_NAME" default:"notifications"`
	JobName    string `envconfig:"JOB_NAME" default:"send"`
	Channel    string `envconfig:"CHANNEL" default:"email"`
	CampaignID string `envconfig:"CAMPAIGN_ID"`

	BatchSize      int     `envconfig:"BATCH_SIZE" default:"1000"`
	MaxQPS         float64 `envconfig:"MAX_QUERIES_PER_SECOND"`
	TrackResponses bool    `envconfig:"TRACK_RESPONSES" default:"true"`
	TrackingKey    string  `envconfig:"TRACKING_KEY"`
	Attempts       int     `envconfig:"JOB_ATTEMPTS" default:"3"`

	Subject string `envconfig:"EMAIL_SUBJECT"`
	HTML    string `envconfig:"EMAIL_HTML"`
	Text    string `envconfig:"EMAIL_TEXT"`
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

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pager := dispatch.PostgresPager(db, cfg.PageQuery, func(rows *sql.Rows) (interface{}, error) {
		var recipient string
		if err := rows.Scan(&recipient); err != nil {
			return nil, err
		}
		return recipient, nil
	})

	meta := job.Meta{Email: &job.EmailMeta{Subject: cfg.Subject, HTML: cfg.HTML, Text: cfg.Text}}

	err = dispatch.Dispatch(ctx, dispatch.Config{
		Store:               &store.Options{URL: cfg.RedisURL},
		ChannelName:         cfg.Channel,
		Pager:               pager,
		MapRecipient:        func(r interface{}) string { return r.(string) },
		BuildMeta:           func(r interface{}) (job.Meta, error) { return meta, nil },
		QueueName:           cfg.QueueName,
		JobName:             cfg.JobName,
		CampaignID:          cfg.CampaignID,
		BatchSize:           cfg.BatchSize,
		MaxQueriesPerSecond: cfg.MaxQPS,
		TrackResponses:      cfg.TrackResponses,
		TrackingKey:         cfg.TrackingKey,
		JobOptions:          queue.AddOptions{Attempts: cfg.Attempts},
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("dispatch failed", zap.Error(err))
	}
	logger.Info("dispatch complete")
}
