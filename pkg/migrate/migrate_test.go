package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateEmbedded())
}

func TestSettlementConstraintsPresent(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(Migrations, embeddedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := fs.ReadFile(Migrations, path)
		if err != nil {
			return err
		}
		all.Write(b)
		return nil
	})
	require.NoError(t, err)
	content := all.String()

	for _, sub := range []string{
		"CONSTRAINT uniq_inventory_pharmacy_medicine UNIQUE (pharmacy_id, medicine_id)",
		"CHECK (stock >= 0)",
		"CONSTRAINT uniq_cart_line UNIQUE (customer_id, pharmacy_id, medicine_id)",
		"CONSTRAINT uniq_delivery_reservation UNIQUE (reservation_id)",
		"CONSTRAINT uniq_reservation_transaction UNIQUE (transaction_id)",
		"CONSTRAINT uniq_payment_session_transaction UNIQUE (transaction_id)",
		"CHECK (grand_total = total_price + delivery_charge + platform_fee)",
		"ADD CONSTRAINT uniq_cart_position UNIQUE (customer_id, position)",
		"'expired', 'rejected'",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestValidateRejectsBadFiles(t *testing.T) {
	bad := fstest.MapFS{
		"m/20260101000000_ok.sql":  {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"m/20260101000000_dup.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	assert.ErrorContains(t, Validate(bad, "m"), "duplicate migration version")

	missing := fstest.MapFS{"m/20260101000000_ok.sql": {Data: []byte("-- +goose Up\n")}}
	assert.ErrorContains(t, Validate(missing, "m"), "missing")

	badName := fstest.MapFS{"m/create_things.sql": {Data: []byte("")}}
	assert.ErrorContains(t, Validate(badName, "m"), "invalid migration filename")
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Stock Index!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20261016093000_add_stock_index.sql"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "-- +goose Up")

	_, err = CreateSQLMigration(dir, "Add Stock Index!", now)
	assert.Error(t, err, "second create with same version must fail")

	_, err = CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}
