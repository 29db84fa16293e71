package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/internal/orders"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/metrics"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Allocation fixes the fee totals of a settlement ahead of time, as a
// payment session does. Without one, fees are computed from the cart.
type Allocation struct {
	DeliveryCharge decimal.Decimal
	PlatformFee    decimal.Decimal
}

// SettleInput describes one cart settlement.
type SettleInput struct {
	CustomerID      uuid.UUID
	DeliveryType    enums.DeliveryType
	DeliveryAddress string
	PaymentMethod   enums.PaymentMethod
	TransactionID   *string
	Allocation      *Allocation
	Source          string
	Actor           *outbox.ActorRef
}

// Engine turns a customer's cart into orders. Sync checkout and payment
// reconciliation both settle through it.
type Engine struct {
	tx          txRunner
	carts       cart.Repository
	orders      orders.Repository
	ledger      *inventory.Ledger
	calc        *fees.Calculator
	outbox      outbox.Emitter
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
	lockTimeout time.Duration
}

// EngineParams groups the engine's collaborators.
type EngineParams struct {
	Tx          txRunner
	Carts       cart.Repository
	Orders      orders.Repository
	Ledger      *inventory.Ledger
	Calculator  *fees.Calculator
	Outbox      outbox.Emitter
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
	LockTimeout time.Duration
}

// NewEngine validates params and builds the engine.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Calculator == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Ledger == nil {
		p.Ledger = inventory.NewLedger()
	}
	return &Engine{
		tx:          p.Tx,
		carts:       p.Carts,
		orders:      p.Orders,
		ledger:      p.Ledger,
		calc:        p.Calculator,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
		logg:        p.Logger,
		lockTimeout: p.LockTimeout,
	}, nil
}

// Checkout settles the customer's cart synchronously, cash on delivery.
func (e *Engine) Checkout(ctx context.Context, customerID uuid.UUID, input CheckoutInput) (*Result, error) {
	mode, address, err := ValidateDelivery(input.DeliveryType, input.DeliveryAddress)
	if err != nil {
		return nil, err
	}

	var result *Result
	start := time.Now()
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := e.SettleTx(ctx, tx, SettleInput{
			CustomerID:      customerID,
			DeliveryType:    mode,
			DeliveryAddress: address,
			PaymentMethod:   enums.PaymentMethodCashOnDelivery,
			Source:          metrics.SourceCheckout,
			Actor:           &outbox.ActorRef{UserID: customerID, Role: enums.RoleCustomer.String()},
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	err = MapTxError(err)
	e.Observe(metrics.SourceCheckout, start, err, result)
	if err != nil {
		return nil, err
	}
	if e.logg != nil {
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"settlement_id": result.SettlementID.String(),
			"order_count":   result.Summary.OrderCount,
			"grand_total":   result.Summary.GrandTotal.StringFixed(2),
		})
		e.logg.Info(logCtx, "checkout settled")
	}
	return result, nil
}

// SettleTx runs the settlement inside tx. On any error the caller must roll
// back; nothing it wrote is meant to survive a failure.
func (e *Engine) SettleTx(ctx context.Context, tx *gorm.DB, in SettleInput) (*Result, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if in.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if err := db.SetLockTimeout(tx, e.lockTimeout); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set lock timeout")
	}

	carts := e.carts.WithTx(tx)
	lines, err := carts.LockByCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, MapTxError(err)
	}
	if len(lines) == 0 {
		if in.Allocation != nil {
			return nil, pkgerrors.New(pkgerrors.CodeNothingToSettle, "cart is empty")
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	keys := make([]inventory.Key, len(lines))
	for i, line := range lines {
		keys[i] = inventory.Key{PharmacyID: line.PharmacyID, MedicineID: line.MedicineID}
	}
	locked, err := e.ledger.Lock(ctx, tx, keys)
	if err != nil {
		return nil, err
	}
	for i, line := range lines {
		entry, ok := locked[keys[i]]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotCarried, "pharmacy no longer carries this medicine").
				WithDetails(map[string]any{"pharmacyId": line.PharmacyID, "medicineId": line.MedicineID})
		}
		if err := inventory.EnsureStock(entry, line.Quantity); err != nil {
			return nil, err
		}
	}

	items := cart.FeeItems(lines)
	var breakdown *fees.Breakdown
	if in.Allocation != nil {
		breakdown, err = e.calc.Allocate(items, in.Allocation.DeliveryCharge, in.Allocation.PlatformFee)
	} else {
		breakdown, err = e.calc.Compute(items, in.DeliveryType)
	}
	if err != nil {
		return nil, err
	}

	settlementID := uuid.New()
	var address *string
	if in.DeliveryType == enums.DeliveryTypeDelivery && in.DeliveryAddress != "" {
		addr := in.DeliveryAddress
		address = &addr
	}
	paymentMethod := in.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = enums.PaymentMethodCashOnDelivery
	}

	rows := make([]models.Order, len(lines))
	for i, line := range lines {
		priced := breakdown.Lines[i]
		rows[i] = models.Order{
			ID:              uuid.New(),
			SettlementID:    settlementID,
			CustomerID:      in.CustomerID,
			PharmacyID:      line.PharmacyID,
			MedicineID:      line.MedicineID,
			Quantity:        line.Quantity,
			UnitPrice:       line.Price,
			TotalPrice:      priced.LineTotal,
			DeliveryCharge:  priced.DeliveryCharge,
			PlatformFee:     priced.PlatformFee,
			GrandTotal:      priced.GrandTotal,
			DeliveryType:    in.DeliveryType,
			DeliveryAddress: address,
			Status:          enums.OrderStatusPending,
			PaymentMethod:   paymentMethod,
			TransactionID:   in.TransactionID,
		}
	}
	if err := e.orders.WithTx(tx).CreateBatch(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create orders")
	}

	for _, line := range lines {
		if err := e.ledger.CommitDecrement(ctx, tx, line.PharmacyID, line.MedicineID, line.Quantity); err != nil {
			return nil, err
		}
	}

	if _, err := carts.DeleteByCustomer(ctx, in.CustomerID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}

	summary := Summary{
		OrderCount:          len(rows),
		NumberOfPharmacies:  breakdown.Summary.NumberOfPharmacies,
		Subtotal:            breakdown.Summary.Subtotal,
		TotalDeliveryCharge: breakdown.Summary.TotalDeliveryCharge,
		TotalPlatformFee:    breakdown.Summary.TotalPlatformFee,
		GrandTotal:          breakdown.Summary.GrandTotal,
	}

	orderIDs := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		orderIDs[i] = row.ID
	}
	event := outbox.SettlementCompleted{
		SettlementID:       settlementID,
		CustomerID:         in.CustomerID,
		Source:             in.Source,
		OrderIDs:           orderIDs,
		NumberOfPharmacies: summary.NumberOfPharmacies,
		GrandTotal:         summary.GrandTotal,
	}
	if in.TransactionID != nil {
		event.TransactionID = *in.TransactionID
	}
	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSettlementCompleted,
		AggregateType: enums.AggregateSettlement,
		AggregateID:   settlementID,
		Actor:         in.Actor,
		Data:          event,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement event")
	}

	return &Result{
		SettlementID: settlementID,
		Orders:       orders.FromModels(rows),
		Summary:      summary,
	}, nil
}

// Observe records a settlement attempt for source.
func (e *Engine) Observe(source string, start time.Time, err error, result *Result) {
	outcome := "ok"
	if err != nil {
		outcome = string(pkgerrors.CodeInternal)
		if typed := pkgerrors.As(err); typed != nil {
			outcome = string(typed.Code())
		}
	}
	created := 0
	if err == nil && result != nil {
		created = result.Summary.OrderCount
	}
	e.metrics.Observe(source, outcome, time.Since(start), created)
}

// ValidateDelivery parses the delivery mode and enforces the address rule:
// required and non-blank for delivery, ignored for pickup.
func ValidateDelivery(rawType, rawAddress string) (enums.DeliveryType, string, error) {
	mode, err := enums.ParseDeliveryType(strings.TrimSpace(rawType))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "deliveryType must be pickup or delivery")
	}
	address := strings.TrimSpace(rawAddress)
	if mode == enums.DeliveryTypeDelivery && address == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "deliveryAddress is required for delivery")
	}
	if mode == enums.DeliveryTypePickup {
		address = ""
	}
	return mode, address, nil
}

// MapTxError turns raw lock and serialization failures into BUSY and
// leaves typed errors alone.
func MapTxError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if db.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, "inventory is locked by another settlement")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settlement failed")
}
