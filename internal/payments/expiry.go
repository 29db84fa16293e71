package payments

import (
	"context"
	"time"

	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

const defaultSessionTTL = 2 * time.Hour

// Expirer moves abandoned initiated sessions to expired. An expired
// session still settles if the gateway later confirms it.
type Expirer struct {
	sessions Repository
	ttl      time.Duration
}

func NewExpirer(sessions Repository, ttl time.Duration) *Expirer {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Expirer{sessions: sessions, ttl: ttl}
}

func (e *Expirer) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.sessions.ExpireInitiatedBefore(ctx, now.Add(-e.ttl))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire payment sessions")
	}
	return n, nil
}
