package fees

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

// Config is the fixed fee model. CommissionRate is charged to pharmacies
// and never reaches a customer total.
type Config struct {
	DeliveryCharge  decimal.Decimal
	PlatformFeeRate decimal.Decimal
	CommissionRate  decimal.Decimal
}

// Item is one priced line fed to the calculator. Input order matters:
// the first item seen for a pharmacy carries its delivery charge.
type Item struct {
	PharmacyID uuid.UUID
	UnitPrice  decimal.Decimal
	Quantity   int
}

// Line is the priced result for one Item.
type Line struct {
	Item
	LineTotal      decimal.Decimal
	DeliveryCharge decimal.Decimal
	PlatformFee    decimal.Decimal
	GrandTotal     decimal.Decimal
}

// Summary aggregates a Breakdown.
type Summary struct {
	NumberOfPharmacies  int             `json:"numberOfPharmacies"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TotalDeliveryCharge decimal.Decimal `json:"totalDeliveryCharge"`
	TotalPlatformFee    decimal.Decimal `json:"totalPlatformFee"`
	GrandTotal          decimal.Decimal `json:"grandTotal"`
}

// Breakdown holds per-line results in input order plus the aggregate.
type Breakdown struct {
	Lines   []Line
	Summary Summary
}

// Calculator prices line items. It holds no state beyond its config.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a Calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.DeliveryCharge.IsNegative() {
		return nil, fmt.Errorf("delivery charge must not be negative")
	}
	if cfg.PlatformFeeRate.IsNegative() || cfg.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("platform fee rate must be within [0, 1)")
	}
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be within [0, 1)")
	}
	return &Calculator{cfg: cfg}, nil
}

// FromConfig builds a Calculator from the loaded application config.
func FromConfig(cfg config.FeesConfig) (*Calculator, error) {
	return NewCalculator(Config{
		DeliveryCharge:  cfg.DeliveryCharge,
		PlatformFeeRate: cfg.PlatformFeeRate,
		CommissionRate:  cfg.CommissionRate,
	})
}

// Commission is the pharmacy-side commission on gross revenue, rounded to
// the cent.
func (c *Calculator) Commission(revenue decimal.Decimal) decimal.Decimal {
	return round2(revenue.Mul(c.cfg.CommissionRate))
}

// DeliveryCharge returns the configured per-pharmacy delivery charge.
func (c *Calculator) DeliveryCharge() decimal.Decimal {
	return c.cfg.DeliveryCharge
}

// Compute prices items for the given delivery mode.
func (c *Calculator) Compute(items []Item, mode enums.DeliveryType) (*Breakdown, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if !mode.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery type must be pickup or delivery")
	}

	seen := make(map[uuid.UUID]struct{}, len(items))
	lines := make([]Line, len(items))
	for i, item := range items {
		total := lineTotal(item)
		delivery := decimal.Zero
		if _, ok := seen[item.PharmacyID]; !ok {
			seen[item.PharmacyID] = struct{}{}
			if mode == enums.DeliveryTypeDelivery {
				delivery = round2(c.cfg.DeliveryCharge)
			}
		}
		fee := round2(total.Mul(c.cfg.PlatformFeeRate))
		lines[i] = Line{
			Item:           item,
			LineTotal:      total,
			DeliveryCharge: delivery,
			PlatformFee:    fee,
			GrandTotal:     round2(total.Add(delivery).Add(fee)),
		}
	}
	return &Breakdown{Lines: lines, Summary: summarize(lines, len(seen))}, nil
}

// Allocate prices items against totals fixed earlier, e.g. the delivery
// charge and platform fee carried by a payment session. The delivery charge
// is split equally across the distinct pharmacies in items and lands on
// each pharmacy's first line; the platform fee is split across lines by
// their share of the subtotal. Rounding residue goes to the last receiving
// line so the parts always sum to the given totals.
func (c *Calculator) Allocate(items []Item, deliveryCharge, platformFee decimal.Decimal) (*Breakdown, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if deliveryCharge.IsNegative() || platformFee.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocated totals must not be negative")
	}
	deliveryCharge = round2(deliveryCharge)
	platformFee = round2(platformFee)

	firsts := make([]int, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	subtotal := decimal.Zero
	totals := make([]decimal.Decimal, len(items))
	for i, item := range items {
		totals[i] = lineTotal(item)
		subtotal = subtotal.Add(totals[i])
		if _, ok := seen[item.PharmacyID]; !ok {
			seen[item.PharmacyID] = struct{}{}
			firsts = append(firsts, i)
		}
	}

	deliveries := make([]decimal.Decimal, len(items))
	for i := range deliveries {
		deliveries[i] = decimal.Zero
	}
	share := round2(deliveryCharge.Div(decimal.NewFromInt(int64(len(firsts)))))
	remaining := deliveryCharge
	for n, idx := range firsts {
		if n == len(firsts)-1 {
			deliveries[idx] = remaining
			break
		}
		deliveries[idx] = share
		remaining = remaining.Sub(share)
	}

	fees := make([]decimal.Decimal, len(items))
	remaining = platformFee
	for i := range items {
		if i == len(items)-1 {
			fees[i] = remaining
			break
		}
		part := decimal.Zero
		if subtotal.IsPositive() {
			part = round2(platformFee.Mul(totals[i]).Div(subtotal))
		}
		fees[i] = part
		remaining = remaining.Sub(part)
	}

	lines := make([]Line, len(items))
	for i, item := range items {
		lines[i] = Line{
			Item:           item,
			LineTotal:      totals[i],
			DeliveryCharge: deliveries[i],
			PlatformFee:    fees[i],
			GrandTotal:     round2(totals[i].Add(deliveries[i]).Add(fees[i])),
		}
	}
	return &Breakdown{Lines: lines, Summary: summarize(lines, len(seen))}, nil
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	for i, item := range items {
		if item.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"line": i})
		}
		if item.UnitPrice.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative").
				WithDetails(map[string]any{"line": i})
		}
	}
	return nil
}

func summarize(lines []Line, pharmacies int) Summary {
	sum := Summary{
		NumberOfPharmacies:  pharmacies,
		Subtotal:            decimal.Zero,
		TotalDeliveryCharge: decimal.Zero,
		TotalPlatformFee:    decimal.Zero,
		GrandTotal:          decimal.Zero,
	}
	for _, line := range lines {
		sum.Subtotal = sum.Subtotal.Add(line.LineTotal)
		sum.TotalDeliveryCharge = sum.TotalDeliveryCharge.Add(line.DeliveryCharge)
		sum.TotalPlatformFee = sum.TotalPlatformFee.Add(line.PlatformFee)
		sum.GrandTotal = sum.GrandTotal.Add(line.GrandTotal)
	}
	return sum
}

func lineTotal(item Item) decimal.Decimal {
	return round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
}

// round2 rounds half away from zero to cents. Amounts are never negative
// here, so this is half-up.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
