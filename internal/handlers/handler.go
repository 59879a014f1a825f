package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/farellandr/quariarbox/internal/gateway"
	"github.com/farellandr/quariarbox/internal/notify"
	"github.com/farellandr/quariarbox/internal/payments"
	"github.com/farellandr/quariarbox/internal/receipts"
	"github.com/farellandr/quariarbox/internal/reconciler"
)

// Initiator starts a hosted checkout with the payment gateway.
type Initiator interface {
	Initiate(ctx context.Context, req gateway.PaymentRequest) (*gateway.InitiateResult, error)
}

type Config struct {
	JWTSecret     string
	SessionTTL    time.Duration
	SecureCookies bool
}

type Handler struct {
	db            *gorm.DB
	cfg           Config
	payments      *payments.Service
	reconciler    *reconciler.Reconciler
	gateway       Initiator
	receipts      *receipts.Generator
	notifications *notify.Store
	logger        *zap.Logger
}

type Deps struct {
	DB            *gorm.DB
	Payments      *payments.Service
	Reconciler    *reconciler.Reconciler
	Gateway       Initiator
	Receipts      *receipts.Generator
	Notifications *notify.Store
	Logger        *zap.Logger
}

func New(cfg Config, deps Deps) *Handler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		db:            deps.DB,
		cfg:           cfg,
		payments:      deps.Payments,
		reconciler:    deps.Reconciler,
		gateway:       deps.Gateway,
		receipts:      deps.Receipts,
		notifications: deps.Notifications,
		logger:        deps.Logger.With(zap.String("component", "http")),
	}
}
