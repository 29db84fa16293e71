package inventory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Key identifies one inventory row.
type Key struct {
	PharmacyID uuid.UUID
	MedicineID uuid.UUID
}

// Ledger guards stock. Every method takes the caller's transaction so the
// check, the decrement and the caller's writes commit together.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Lock takes row locks on every key in a fixed order so concurrent
// settlements over overlapping rows cannot deadlock each other. Missing
// rows are omitted from the result; callers decide whether that is fatal.
func (l *Ledger) Lock(ctx context.Context, tx *gorm.DB, keys []Key) (map[Key]models.InventoryEntry, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	ordered := dedupe(keys)
	sort.Slice(ordered, func(i, j int) bool {
		if c := bytes.Compare(ordered[i].PharmacyID[:], ordered[j].PharmacyID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(ordered[i].MedicineID[:], ordered[j].MedicineID[:]) < 0
	})

	locked := make(map[Key]models.InventoryEntry, len(ordered))
	for _, key := range ordered {
		var entry models.InventoryEntry
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pharmacy_id = ? AND medicine_id = ?", key.PharmacyID, key.MedicineID).
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, lockError(err, "lock inventory")
		}
		locked[key] = entry
	}
	return locked, nil
}

// CheckAndReserve locks the row and verifies quantity is available,
// returning the live unit price. Nothing is decremented.
func (l *Ledger) CheckAndReserve(ctx context.Context, tx *gorm.DB, pharmacyID, medicineID uuid.UUID, quantity int) (decimal.Decimal, error) {
	if quantity < 1 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	key := Key{PharmacyID: pharmacyID, MedicineID: medicineID}
	locked, err := l.Lock(ctx, tx, []Key{key})
	if err != nil {
		return decimal.Zero, err
	}
	entry, ok := locked[key]
	if !ok {
		return decimal.Zero, notCarried(pharmacyID, medicineID)
	}
	if err := EnsureStock(entry, quantity); err != nil {
		return decimal.Zero, err
	}
	return entry.Price, nil
}

// CommitDecrement removes quantity from stock. The update is conditional
// on stock >= quantity so stock can never go negative even without a
// prior lock.
func (l *Ledger) CommitDecrement(ctx context.Context, tx *gorm.DB, pharmacyID, medicineID uuid.UUID, quantity int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	res := tx.WithContext(ctx).
		Model(&models.InventoryEntry{}).
		Where("pharmacy_id = ? AND medicine_id = ? AND stock >= ?", pharmacyID, medicineID, quantity).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return lockError(res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
			WithDetails(map[string]any{
				"pharmacyId": pharmacyID,
				"medicineId": medicineID,
				"requested":  quantity,
			})
	}
	return nil
}

// EnsureStock fails with OUT_OF_STOCK when entry cannot cover quantity.
func EnsureStock(entry models.InventoryEntry, quantity int) error {
	if quantity > entry.Stock {
		return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
			WithDetails(map[string]any{
				"pharmacyId": entry.PharmacyID,
				"medicineId": entry.MedicineID,
				"requested":  quantity,
				"available":  entry.Stock,
			})
	}
	return nil
}

func lockError(err error, msg string) error {
	if db.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, "inventory is locked by another settlement")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func dedupe(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
