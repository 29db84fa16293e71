package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
)

var ErrNotFound = errors.New("payment session not found")

// Repository persists gateway payment sessions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.PaymentSession) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error)
	LockByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error)
	Update(ctx context.Context, transactionID string, updates map[string]any) error
	ExpireInitiatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.PaymentSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	return find(r.db.WithContext(ctx), transactionID)
}

func (r *repository) LockByTransactionID(ctx context.Context, transactionID string) (*models.PaymentSession, error) {
	return find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), transactionID)
}

func find(q *gorm.DB, transactionID string) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := q.Where("transaction_id = ?", transactionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) Update(ctx context.Context, transactionID string, updates map[string]any) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("transaction_id = ?", transactionID).
		Updates(updates).Error
}

// ExpireInitiatedBefore marks sessions still initiated at cutoff as expired.
func (r *repository) ExpireInitiatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentSession{}).
		Where("status = ? AND created_at < ?", enums.PaymentSessionInitiated, cutoff).
		Updates(map[string]any{
			"status":     enums.PaymentSessionExpired,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
