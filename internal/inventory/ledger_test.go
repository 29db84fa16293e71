package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/pkg/db/dbtest"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

func TestCheckAndReserveReturnsLivePrice(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	entry := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "12.50", 4)
	ledger := NewLedger()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		price, err := ledger.CheckAndReserve(context.Background(), tx, entry.PharmacyID, entry.MedicineID, 4)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.RequireFromString("12.50")), "got %s", price)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, dbtest.Stock(t, client, entry.PharmacyID, entry.MedicineID), "check does not decrement")
}

func TestCheckAndReserveErrors(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	entry := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "1.00", 2)
	ledger := NewLedger()
	ctx := context.Background()

	_ = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.CheckAndReserve(ctx, tx, entry.PharmacyID, entry.MedicineID, 3)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock), "got %v", err)

		_, err = ledger.CheckAndReserve(ctx, tx, entry.PharmacyID, uuid.New(), 1)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotCarried), "got %v", err)

		_, err = ledger.CheckAndReserve(ctx, tx, entry.PharmacyID, entry.MedicineID, 0)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		return nil
	})
}

func TestCommitDecrementNeverGoesNegative(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	entry := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "1.00", 3)
	ledger := NewLedger()
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return ledger.CommitDecrement(ctx, tx, entry.PharmacyID, entry.MedicineID, 2)
	}))
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return ledger.CommitDecrement(ctx, tx, entry.PharmacyID, entry.MedicineID, 2)
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock))
	assert.Equal(t, 1, dbtest.Stock(t, client, entry.PharmacyID, entry.MedicineID))
}

func TestConcurrentDecrementsExhaustExactly(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	entry := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "1.00", 5)
	ledger := NewLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded, failed atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.WithTx(ctx, func(tx *gorm.DB) error {
				if _, err := ledger.CheckAndReserve(ctx, tx, entry.PharmacyID, entry.MedicineID, 2); err != nil {
					return err
				}
				return ledger.CommitDecrement(ctx, tx, entry.PharmacyID, entry.MedicineID, 2)
			})
			if err != nil {
				assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock), "got %v", err)
				failed.Add(1)
				return
			}
			succeeded.Add(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), succeeded.Load())
	assert.Equal(t, int32(6), failed.Load())
	assert.Equal(t, 1, dbtest.Stock(t, client, entry.PharmacyID, entry.MedicineID))
}

func TestLockSkipsMissingAndDedupes(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	a := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "1.00", 1)
	b := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "2.00", 1)
	ledger := NewLedger()
	ctx := context.Background()

	_ = client.WithTx(ctx, func(tx *gorm.DB) error {
		keys := []Key{
			{PharmacyID: b.PharmacyID, MedicineID: b.MedicineID},
			{PharmacyID: a.PharmacyID, MedicineID: a.MedicineID},
			{PharmacyID: a.PharmacyID, MedicineID: a.MedicineID},
			{PharmacyID: a.PharmacyID, MedicineID: uuid.New()},
		}
		locked, err := ledger.Lock(ctx, tx, keys)
		require.NoError(t, err)
		assert.Len(t, locked, 2)
		return nil
	})
}

func TestRepositoryLookups(t *testing.T) {
	client := dbtest.Open(t)
	pharmacy := dbtest.SeedPharmacy(t, client, "alpha")
	entry := dbtest.SeedStock(t, client, pharmacy.Pharmacy.ID, "3.00", 2)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	got, err := repo.FindEntry(ctx, entry.PharmacyID, entry.MedicineID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	_, err = repo.FindEntry(ctx, uuid.New(), entry.MedicineID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotCarried))

	_, err = repo.FindPharmacy(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	med, err := repo.FindMedicine(ctx, entry.MedicineID)
	require.NoError(t, err)
	assert.Equal(t, entry.MedicineID, med.ID)

	low, err := repo.LowStock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, low, 1, "stock 2 is under threshold 5")
}
