// Package reconciler applies gateway outcomes reported through the user
// redirect and the signed webhook to the payment they refer to.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/farellandr/quariarbox/internal/gateway"
	"github.com/farellandr/quariarbox/internal/locks"
	"github.com/farellandr/quariarbox/internal/models"
	"github.com/farellandr/quariarbox/internal/payments"
)

type PaymentService interface {
	GetByTxRef(ctx context.Context, txRef string) (*models.Payment, error)
	GetByTxRefForUser(ctx context.Context, txRef string, userID uuid.UUID) (*models.Payment, error)
	MarkPaid(ctx context.Context, id uuid.UUID, in payments.PaidInput) (*payments.Transition, error)
	MarkFailed(ctx context.Context, id uuid.UUID, in payments.FailedInput) (*payments.Transition, error)
}

type Verifier interface {
	Verify(ctx context.Context, transactionID string) (*gateway.VerifyResult, error)
}

type Config struct {
	// SecretHash is the shared secret the gateway sends in the verif-hash header.
	SecretHash    string
	VerifyTimeout time.Duration
	LockTimeout   time.Duration
}

type Reconciler struct {
	payments PaymentService
	verifier Verifier
	locker   locks.Locker
	cfg      Config
	logger   *zap.Logger
}

func New(svc PaymentService, verifier Verifier, locker locks.Locker, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 15 * time.Second
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	return &Reconciler{
		payments: svc,
		verifier: verifier,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "reconciler")),
	}
}

// lock serialises reconciliation of one tx_ref. The database guards remain
// authoritative, so failing to get the lock is logged and work continues.
func (r *Reconciler) lock(ctx context.Context, txRef string) func() {
	if r.locker == nil || txRef == "" {
		return func() {}
	}
	lockCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTimeout)
	defer cancel()

	unlock, err := r.locker.Lock(lockCtx, "payment:"+txRef)
	if err != nil {
		r.logger.Warn("proceeding without payment lock", zap.String("tx_ref", txRef), zap.Error(err))
		return func() {}
	}
	return unlock
}
