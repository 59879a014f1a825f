package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/config"
	"github.com/farellandr/quariarbox/internal/gateway"
	"github.com/farellandr/quariarbox/internal/locks"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/notify"
	"github.com/farellandr/quariarbox/internal/outbox"
	"github.com/farellandr/quariarbox/internal/payments"
	"github.com/farellandr/quariarbox/internal/receipts"
	"github.com/farellandr/quariarbox/internal/reconciler"
)

// App holds the wired services shared by the HTTP server and the CLI.
type App struct {
	Config        *config.Config
	DB            *gorm.DB
	Logger        *zap.Logger
	Gateway       *gateway.Client
	Payments      *payments.Service
	Receipts      *receipts.Generator
	Notifications *notify.Store
	Outbox        *outbox.Processor
	Reconciler    *reconciler.Reconciler

	closers []func() error
}

// Collaborators that talk to external systems. Zero values fall back to
// in-process implementations.
type Externals struct {
	Locker    locks.Locker
	Publisher notify.Publisher
	Mailer    notify.Mailer
	Verifier  reconciler.Verifier
}

// NewApp connects to the configured database and infrastructure and wires
// the services.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := config.InitDatabase(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var ext Externals
	var closers []func() error

	if cfg.Redis.Addr != "" {
		client := locks.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process locks", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			client.Close()
		} else {
			ext.Locker = locks.NewRedisLocker(client, cfg.Redis.LockTTL, logger)
			closers = append(closers, client.Close)
		}
	}

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := notify.EnsureTopic(topicCtx, brokers, cfg.Kafka.PaymentStatusTopic, logger); err != nil {
			logger.Warn("could not ensure kafka topic", zap.Error(err))
		}
		cancel()
		ext.Publisher = notify.NewKafkaPublisher(brokers, cfg.Kafka.PaymentStatusTopic, logger)
	}

	if cfg.SMTP.Host != "" {
		mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger)
		if err != nil {
			logger.Warn("smtp disabled, logging emails instead", zap.String("host", cfg.SMTP.Host), zap.Error(err))
		} else {
			ext.Mailer = mailer
		}
	}

	app := Wire(cfg, db, ext, logger)
	app.closers = append(app.closers, closers...)
	return app, nil
}

// Wire builds the services on top of an open database.
func Wire(cfg *config.Config, db *gorm.DB, ext Externals, logger *zap.Logger) *App {
	if ext.Locker == nil {
		ext.Locker = locks.NewLocalLocker()
	}
	if ext.Publisher == nil {
		ext.Publisher = notify.NewLogPublisher(logger)
	}
	if ext.Mailer == nil {
		ext.Mailer = notify.NewLogMailer(logger)
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Flutterwave.BaseURL,
		SecretKey: cfg.Flutterwave.SecretKey,
		Timeout:   cfg.Flutterwave.Timeout,
	}, logger)
	if ext.Verifier == nil {
		ext.Verifier = client
	}

	processor := outbox.NewProcessor(db, outbox.Options{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryBackoff: cfg.Outbox.PollInterval,
	}, logger)

	generator := receipts.NewGenerator(db, receipts.Config{
		Dir:      cfg.Receipts.Dir,
		Company:  cfg.Flutterwave.Title,
		Currency: cfg.Flutterwave.Currency,
	}, receipts.NewSigner(cfg.Receipts.SigningSecret), logger)

	store := notify.NewStore(db)

	svc := payments.NewService(db, payments.Config{
		SiteURL:  cfg.SiteURL,
		Currency: cfg.Flutterwave.Currency,
		Title:    cfg.Flutterwave.Title,
		Logo:     cfg.Flutterwave.Logo,
	}, generator, processor, logger)

	processor.Register(models.OutboxNotification, store.HandleOutbox)
	processor.Register(models.OutboxEmail, notify.EmailHandler(ext.Mailer))
	processor.Register(models.OutboxReceiptRender, generator.HandleOutbox)
	processor.Register(models.OutboxPaymentStatus, notify.StatusEventHandler(ext.Publisher))

	rec := reconciler.New(svc, ext.Verifier, ext.Locker, reconciler.Config{
		SecretHash:    cfg.Flutterwave.SecretHash,
		VerifyTimeout: cfg.Flutterwave.Timeout,
	}, logger)

	return &App{
		Config:        cfg,
		DB:            db,
		Logger:        logger,
		Gateway:       client,
		Payments:      svc,
		Receipts:      generator,
		Notifications: store,
		Outbox:        processor,
		Reconciler:    rec,
		closers:       []func() error{ext.Publisher.Close},
	}
}

// Close releases infrastructure clients and the database pool.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
