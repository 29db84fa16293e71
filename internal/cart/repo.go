package cart

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
)

// Repository persists cart lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error)
	LockByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error)
	FindByID(ctx context.Context, customerID, lineID uuid.UUID) (*models.CartLine, error)
	FindByItem(ctx context.Context, customerID, pharmacyID, medicineID uuid.UUID) (*models.CartLine, error)
	NextPosition(ctx context.Context, customerID uuid.UUID) (int64, error)
	Create(ctx context.Context, line *models.CartLine) error
	UpdateQuantity(ctx context.Context, lineID uuid.UUID, quantity int) error
	Delete(ctx context.Context, customerID, lineID uuid.UUID) (int64, error)
	DeleteByCustomer(ctx context.Context, customerID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a cart repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListByCustomer returns lines in settlement order.
func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("position ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

// LockByCustomer is ListByCustomer with row locks, used by settlement so a
// concurrent checkout of the same cart waits and then sees it empty.
func (r *repository) LockByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		Order("position ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

func (r *repository) FindByID(ctx context.Context, customerID, lineID uuid.UUID) (*models.CartLine, error) {
	var line models.CartLine
	err := r.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", lineID, customerID).
		First(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) FindByItem(ctx context.Context, customerID, pharmacyID, medicineID uuid.UUID) (*models.CartLine, error) {
	var line models.CartLine
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND pharmacy_id = ? AND medicine_id = ?", customerID, pharmacyID, medicineID).
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) NextPosition(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var maxPos sql.NullInt64
	row := r.db.WithContext(ctx).
		Model(&models.CartLine{}).
		Where("customer_id = ?", customerID).
		Select("MAX(position)").
		Row()
	if err := row.Scan(&maxPos); err != nil {
		return 0, err
	}
	return maxPos.Int64 + 1, nil
}

func (r *repository) Create(ctx context.Context, line *models.CartLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *repository) UpdateQuantity(ctx context.Context, lineID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartLine{}).
		Where("id = ?", lineID).
		Update("quantity", quantity).Error
}

func (r *repository) Delete(ctx context.Context, customerID, lineID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", lineID, customerID).
		Delete(&models.CartLine{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteByCustomer(ctx context.Context, customerID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Delete(&models.CartLine{})
	return res.RowsAffected, res.Error
}
