package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

type sessionExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// NewPaymentExpiryJob marks gateway sessions that never got a callback as
// expired. A late validated callback can still settle an expired session.
func NewPaymentExpiryJob(logg *logger.Logger, payments sessionExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	return &paymentExpiryJob{logg: logg, payments: payments, now: time.Now}, nil
}

type paymentExpiryJob struct {
	logg     *logger.Logger
	payments sessionExpirer
	now      func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-session-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	expired, err := j.payments.ExpireStale(ctx, j.now().UTC())
	if err != nil {
		return err
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "sessions_expired", expired), "expired stale payment sessions")
	}
	return nil
}
