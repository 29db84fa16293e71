package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Repository is the read side of the catalog: pharmacies, medicines and
// inventory rows. Restock and catalog CRUD live elsewhere.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindEntry returns the inventory row for the pair or NOT_CARRIED.
func (r *Repository) FindEntry(ctx context.Context, pharmacyID, medicineID uuid.UUID) (*models.InventoryEntry, error) {
	var entry models.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("pharmacy_id = ? AND medicine_id = ?", pharmacyID, medicineID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notCarried(pharmacyID, medicineID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory entry")
	}
	return &entry, nil
}

// FindPharmacy loads a pharmacy by id.
func (r *Repository) FindPharmacy(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	var pharmacy models.Pharmacy
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&pharmacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pharmacy not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pharmacy")
	}
	return &pharmacy, nil
}

// FindMedicine loads a medicine by id.
func (r *Repository) FindMedicine(ctx context.Context, id uuid.UUID) (*models.Medicine, error) {
	var medicine models.Medicine
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&medicine).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "medicine not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load medicine")
	}
	return &medicine, nil
}

// LowStock lists rows whose stock is at or below their threshold.
func (r *Repository) LowStock(ctx context.Context, limit int) ([]models.InventoryEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []models.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("stock <= min_stock_threshold").
		Order("pharmacy_id ASC, medicine_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func notCarried(pharmacyID, medicineID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotCarried, "pharmacy does not carry this medicine").
		WithDetails(map[string]any{
			"pharmacyId": pharmacyID,
			"medicineId": medicineID,
		})
}
