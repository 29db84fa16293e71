package fees

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(Config{DeliveryCharge: dec("60.00"), PlatformFeeRate: dec("0.003")})
	require.NoError(t, err)
	return calc
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: want %s got %s", msg, want, got)
}

func workedExample() (uuid.UUID, uuid.UUID, []Item) {
	pharmacyA, pharmacyB := uuid.New(), uuid.New()
	return pharmacyA, pharmacyB, []Item{
		{PharmacyID: pharmacyA, UnitPrice: dec("10.00"), Quantity: 2},
		{PharmacyID: pharmacyA, UnitPrice: dec("5.00"), Quantity: 1},
		{PharmacyID: pharmacyB, UnitPrice: dec("20.00"), Quantity: 1},
	}
}

func TestComputeWorkedExampleDelivery(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()

	out, err := calc.Compute(items, enums.DeliveryTypeDelivery)
	require.NoError(t, err)
	require.Len(t, out.Lines, 3)

	assertDec(t, "20.00", out.Lines[0].LineTotal, "line0 total")
	assertDec(t, "60.00", out.Lines[0].DeliveryCharge, "line0 delivery")
	assertDec(t, "0.06", out.Lines[0].PlatformFee, "line0 fee")
	assertDec(t, "80.06", out.Lines[0].GrandTotal, "line0 grand")

	assertDec(t, "5.00", out.Lines[1].LineTotal, "line1 total")
	assertDec(t, "0", out.Lines[1].DeliveryCharge, "line1 delivery")
	assertDec(t, "0.02", out.Lines[1].PlatformFee, "line1 fee")
	assertDec(t, "5.02", out.Lines[1].GrandTotal, "line1 grand")

	assertDec(t, "20.00", out.Lines[2].LineTotal, "line2 total")
	assertDec(t, "60.00", out.Lines[2].DeliveryCharge, "line2 delivery")
	assertDec(t, "0.06", out.Lines[2].PlatformFee, "line2 fee")
	assertDec(t, "80.06", out.Lines[2].GrandTotal, "line2 grand")

	assert.Equal(t, 2, out.Summary.NumberOfPharmacies)
	assertDec(t, "45.00", out.Summary.Subtotal, "subtotal")
	assertDec(t, "120.00", out.Summary.TotalDeliveryCharge, "delivery")
	assertDec(t, "0.14", out.Summary.TotalPlatformFee, "fee")
	assertDec(t, "165.14", out.Summary.GrandTotal, "grand")
}

func TestComputePickupHasNoDelivery(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()

	out, err := calc.Compute(items, enums.DeliveryTypePickup)
	require.NoError(t, err)
	for i, line := range out.Lines {
		assert.True(t, line.DeliveryCharge.IsZero(), "line %d", i)
	}
	assertDec(t, "45.14", out.Summary.GrandTotal, "grand")
}

func TestComputeDeliveryOnFirstLinePerPharmacy(t *testing.T) {
	calc := newCalculator(t)
	a, b := uuid.New(), uuid.New()
	items := []Item{
		{PharmacyID: b, UnitPrice: dec("1.00"), Quantity: 1},
		{PharmacyID: a, UnitPrice: dec("1.00"), Quantity: 1},
		{PharmacyID: b, UnitPrice: dec("1.00"), Quantity: 1},
		{PharmacyID: a, UnitPrice: dec("1.00"), Quantity: 1},
	}
	out, err := calc.Compute(items, enums.DeliveryTypeDelivery)
	require.NoError(t, err)
	assertDec(t, "60", out.Lines[0].DeliveryCharge, "b first")
	assertDec(t, "60", out.Lines[1].DeliveryCharge, "a first")
	assert.True(t, out.Lines[2].DeliveryCharge.IsZero())
	assert.True(t, out.Lines[3].DeliveryCharge.IsZero())
}

func TestComputeRoundsHalfUp(t *testing.T) {
	calc := newCalculator(t)
	// 0.003 * 5.00 = 0.015 -> 0.02, 0.003 * 1.50 = 0.0045 -> 0.00
	out, err := calc.Compute([]Item{
		{PharmacyID: uuid.New(), UnitPrice: dec("5.00"), Quantity: 1},
		{PharmacyID: uuid.New(), UnitPrice: dec("1.50"), Quantity: 1},
	}, enums.DeliveryTypePickup)
	require.NoError(t, err)
	assertDec(t, "0.02", out.Lines[0].PlatformFee, "half rounds up")
	assertDec(t, "0", out.Lines[1].PlatformFee, "below half rounds down")
}

func TestComputeRejectsBadInput(t *testing.T) {
	calc := newCalculator(t)

	_, err := calc.Compute(nil, enums.DeliveryTypePickup)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = calc.Compute([]Item{{PharmacyID: uuid.New(), UnitPrice: dec("1"), Quantity: 0}}, enums.DeliveryTypePickup)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = calc.Compute([]Item{{PharmacyID: uuid.New(), UnitPrice: dec("1"), Quantity: 1}}, enums.DeliveryType("drone"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestComputeIsDeterministic(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()
	first, err := calc.Compute(items, enums.DeliveryTypeDelivery)
	require.NoError(t, err)
	second, err := calc.Compute(items, enums.DeliveryTypeDelivery)
	require.NoError(t, err)
	for i := range first.Lines {
		assert.True(t, first.Lines[i].GrandTotal.Equal(second.Lines[i].GrandTotal))
	}
}

func TestVariedRates(t *testing.T) {
	calc, err := NewCalculator(Config{DeliveryCharge: dec("25.50"), PlatformFeeRate: dec("0.01")})
	require.NoError(t, err)
	out, err := calc.Compute([]Item{{PharmacyID: uuid.New(), UnitPrice: dec("33.33"), Quantity: 3}}, enums.DeliveryTypeDelivery)
	require.NoError(t, err)
	assertDec(t, "99.99", out.Lines[0].LineTotal, "total")
	assertDec(t, "1.00", out.Lines[0].PlatformFee, "fee")
	assertDec(t, "126.49", out.Lines[0].GrandTotal, "grand")
}

func TestAllocateMatchesTotalsExactly(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()

	out, err := calc.Allocate(items, dec("120.00"), dec("0.14"))
	require.NoError(t, err)

	assertDec(t, "60.00", out.Lines[0].DeliveryCharge, "a delivery")
	assert.True(t, out.Lines[1].DeliveryCharge.IsZero())
	assertDec(t, "60.00", out.Lines[2].DeliveryCharge, "b delivery")

	assertDec(t, "120.00", out.Summary.TotalDeliveryCharge, "delivery total")
	assertDec(t, "0.14", out.Summary.TotalPlatformFee, "fee total")
	assertDec(t, "165.14", out.Summary.GrandTotal, "grand")
	for i, line := range out.Lines {
		sum := line.LineTotal.Add(line.DeliveryCharge).Add(line.PlatformFee)
		assert.True(t, sum.Equal(line.GrandTotal), "line %d", i)
	}
}

func TestAllocateSplitsUnevenDelivery(t *testing.T) {
	calc := newCalculator(t)
	items := []Item{
		{PharmacyID: uuid.New(), UnitPrice: dec("10"), Quantity: 1},
		{PharmacyID: uuid.New(), UnitPrice: dec("10"), Quantity: 1},
		{PharmacyID: uuid.New(), UnitPrice: dec("10"), Quantity: 1},
	}
	out, err := calc.Allocate(items, dec("100.00"), dec("0.10"))
	require.NoError(t, err)
	assertDec(t, "33.33", out.Lines[0].DeliveryCharge, "first")
	assertDec(t, "33.33", out.Lines[1].DeliveryCharge, "second")
	assertDec(t, "33.34", out.Lines[2].DeliveryCharge, "last takes residue")
	assertDec(t, "0.03", out.Lines[0].PlatformFee, "fee share")
	assertDec(t, "0.04", out.Lines[2].PlatformFee, "fee residue")
	assertDec(t, "100.00", out.Summary.TotalDeliveryCharge, "delivery total")
	assertDec(t, "0.10", out.Summary.TotalPlatformFee, "fee total")
}

func TestAllocateZeroDeliveryForPickup(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()
	out, err := calc.Allocate(items, decimal.Zero, dec("0.14"))
	require.NoError(t, err)
	assert.True(t, out.Summary.TotalDeliveryCharge.IsZero())
}

func TestAllocateRejectsNegative(t *testing.T) {
	calc := newCalculator(t)
	_, _, items := workedExample()
	_, err := calc.Allocate(items, dec("-1"), decimal.Zero)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewCalculatorValidatesConfig(t *testing.T) {
	_, err := NewCalculator(Config{DeliveryCharge: dec("-1"), PlatformFeeRate: dec("0.003")})
	assert.Error(t, err)
	_, err = NewCalculator(Config{DeliveryCharge: dec("60"), PlatformFeeRate: dec("1")})
	assert.Error(t, err)

	calc, err := FromConfig(config.FeesConfig{DeliveryCharge: dec("60"), PlatformFeeRate: dec("0.003"), CommissionRate: dec("0.03")})
	require.NoError(t, err)
	assertDec(t, "60", calc.DeliveryCharge(), "configured charge")
}

func TestCommissionIsSeparateFromCustomerTotals(t *testing.T) {
	calc, err := FromConfig(config.FeesConfig{DeliveryCharge: dec("60"), PlatformFeeRate: dec("0.003"), CommissionRate: dec("0.03")})
	require.NoError(t, err)
	assertDec(t, "1.05", calc.Commission(dec("35.00")), "commission")

	_, _, items := workedExample()
	breakdown, err := calc.Compute(items, enums.DeliveryTypePickup)
	require.NoError(t, err)
	assertDec(t, "45.14", breakdown.Summary.GrandTotal, "grand total excludes commission")

	_, err = NewCalculator(Config{DeliveryCharge: dec("60"), PlatformFeeRate: dec("0.003"), CommissionRate: dec("1.5")})
	assert.Error(t, err)
}
