package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/quariarbox/internal/models"
)

// Handler delivers one message. tx is scoped to that message: database writes
// made through it commit together with the message being marked sent.
type Handler func(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error

var ErrNoHandler = errors.New("no handler registered for outbox kind")

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Processor struct {
	db       *gorm.DB
	handlers map[models.OutboxKind]Handler
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewProcessor(db *gorm.DB, opts Options, logger *zap.Logger) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	return &Processor{
		db:       db,
		handlers: make(map[models.OutboxKind]Handler),
		opts:     opts,
		logger:   logger.With(zap.String("component", "outbox")),
		now:      func() time.Time { return time.Now().UTC() },
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *Processor) Register(kind models.OutboxKind, h Handler) {
	p.handlers[kind] = h
}

// Trigger asks a running processor to poll now instead of waiting for the next tick.
func (p *Processor) Trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting outbox processor", zap.Duration("poll_interval", p.opts.PollInterval))
	ticker := time.NewTicker(p.opts.PollInterval)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
			case <-p.wake:
			}
			if _, err := p.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error("outbox poll failed", zap.Error(err))
			}
		}
	}()
}

// Stop signals the loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	<-p.done
	p.logger.Info("outbox processor stopped")
}

// Drain processes batches until no message is due. It returns the number of
// messages handled, successfully or not.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := p.ProcessBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messages []models.OutboxMessage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND available_at <= ?", models.OutboxPending, p.now()).
			Order("created_at").
			Limit(p.opts.BatchSize).
			Find(&messages).Error
		if err != nil {
			return fmt.Errorf("load pending messages: %w", err)
		}

		for i := range messages {
			if err := p.process(ctx, tx, &messages[i]); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (p *Processor) process(ctx context.Context, tx *gorm.DB, msg *models.OutboxMessage) error {
	log := p.logger.With(
		zap.String("message_id", msg.ID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("key", msg.Key),
	)

	handlerErr := tx.Transaction(func(sp *gorm.DB) error {
		h, ok := p.handlers[msg.Kind]
		if !ok {
			return ErrNoHandler
		}
		return h(ctx, sp, msg)
	})

	now := p.now()
	if handlerErr == nil {
		log.Debug("outbox message delivered")
		return tx.Model(msg).Updates(map[string]any{
			"status":     models.OutboxSent,
			"attempts":   msg.Attempts + 1,
			"sent_at":    now,
			"last_error": "",
		}).Error
	}

	attempts := msg.Attempts + 1
	updates := map[string]any{
		"attempts":     attempts,
		"last_error":   handlerErr.Error(),
		"available_at": now.Add(time.Duration(attempts*attempts) * p.opts.RetryBackoff),
	}
	if attempts >= p.opts.MaxAttempts || errors.Is(handlerErr, ErrNoHandler) {
		updates["status"] = models.OutboxFailed
		log.Error("outbox message failed permanently", zap.Int("attempts", attempts), zap.Error(handlerErr))
	} else {
		log.Warn("outbox message delivery failed, will retry", zap.Int("attempts", attempts), zap.Error(handlerErr))
	}
	return tx.Model(msg).Updates(updates).Error
}
