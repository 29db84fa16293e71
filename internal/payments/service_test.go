package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/checkout"
	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/internal/orders"
	"github.com/pharmalink/pharmalink-backend/internal/reservations"
	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/dbtest"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/gateway"
	"github.com/pharmalink/pharmalink-backend/pkg/metrics"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
)

type fakeGateway struct {
	mu          sync.Mutex
	requests    []gateway.SessionRequest
	initErr     error
	validation  *gateway.Validation
	validateErr error
	validated   int
}

func (f *fakeGateway) InitSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &gateway.Session{RedirectURL: "https://pay.example/" + req.TransactionID, TransactionID: req.TransactionID}, nil
}

func (f *fakeGateway) Validate(_ context.Context, validationID string) (*gateway.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.validation == nil {
		return &gateway.Validation{Status: "INVALID_TRANSACTION"}, nil
	}
	v := *f.validation
	v.ValidationID = validationID
	return &v, nil
}

func (f *fakeGateway) lastRequest() gateway.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeCallbackStore struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (s *fakeCallbackStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *fakeCallbackStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func (s *fakeCallbackStore) CallbackKey(kind, transactionID string) string {
	return "callback:" + kind + ":" + transactionID
}

type fixture struct {
	client   *db.Client
	svc      Service
	gw       *fakeGateway
	store    *fakeCallbackStore
	entry    models.InventoryEntry
	customer auth.Principal
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	calc, err := fees.NewCalculator(fees.Config{
		DeliveryCharge:  decimal.RequireFromString("60.00"),
		PlatformFeeRate: decimal.RequireFromString("0.003"),
	})
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.NewRegistry())
	carts := cart.NewRepository(client.DB())
	engine, err := checkout.NewEngine(checkout.EngineParams{
		Tx:         client,
		Carts:      carts,
		Orders:     orders.NewRepository(client.DB()),
		Calculator: calc,
		Outbox:     emitter,
		Metrics:    settlementMetrics,
	})
	require.NoError(t, err)

	store := &fakeCallbackStore{keys: map[string]bool{}}
	guard, err := NewCallbackGuard(store, time.Minute)
	require.NoError(t, err)
	gw := &fakeGateway{}
	svc, err := NewService(Params{
		Tx:           client,
		Sessions:     NewRepository(client.DB()),
		Carts:        carts,
		Reservations: reservations.NewRepository(client.DB()),
		Inventory:    inventory.NewRepository(client.DB()),
		Calculator:   calc,
		Engine:       engine,
		Gateway:      gw,
		Guard:        guard,
		Outbox:       emitter,
		Metrics:      settlementMetrics,
		Config: config.GatewayConfig{
			Currency:      "BDT",
			PublicBaseURL: "https://api.pharmalink.test",
			FrontendURL:   "https://app.pharmalink.test",
			SessionTTL:    time.Hour,
		},
	})
	require.NoError(t, err)

	seeded := dbtest.SeedPharmacy(t, client, "alpha")
	return fixture{
		client:   client,
		svc:      svc,
		gw:       gw,
		store:    store,
		entry:    dbtest.SeedStock(t, client, seeded.Pharmacy.ID, "10.00", 5),
		customer: auth.Principal{UserID: uuid.New(), Role: enums.RoleCustomer},
	}
}

func (f fixture) addToCart(t *testing.T, qty int) {
	t.Helper()
	line := models.CartLine{
		ID:         uuid.New(),
		CustomerID: f.customer.UserID,
		PharmacyID: f.entry.PharmacyID,
		MedicineID: f.entry.MedicineID,
		Quantity:   qty,
		Price:      f.entry.Price,
		Position:   1,
	}
	require.NoError(t, f.client.DB().Create(&line).Error)
}

func (f fixture) approve(tranID string, amount decimal.Decimal) {
	f.gw.mu.Lock()
	defer f.gw.mu.Unlock()
	f.gw.validation = &gateway.Validation{Status: gateway.StatusValid, TransactionID: tranID, Amount: amount, CardType: "VISA"}
}

func (f fixture) session(t *testing.T, tranID string) models.PaymentSession {
	t.Helper()
	var session models.PaymentSession
	require.NoError(t, f.client.DB().First(&session, "transaction_id = ?", tranID).Error)
	return session
}

func (f fixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Where("customer_id = ?", f.customer.UserID).Count(&n).Error)
	return n
}

func (f fixture) eventCount(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (f fixture) successCallback(t *testing.T, tranID string) Callback {
	t.Helper()
	opaque, err := gateway.EncodePayload(f.session(t, tranID).Payload)
	require.NoError(t, err)
	return Callback{TransactionID: tranID, ValidationID: "val-" + tranID, Status: gateway.StatusValid, Opaque: opaque}
}

func TestCartPaymentSettlesOnceOnValidatedCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 2)

	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "delivery", DeliveryAddress: "12 Lake Road"})
	require.NoError(t, err)
	assert.True(t, started.Amount.Equal(decimal.RequireFromString("80.06")), started.Amount.String())
	assert.True(t, strings.HasPrefix(started.GatewayURL, "https://pay.example/"))
	assert.LessOrEqual(t, len(started.TransactionID), 30)

	req := f.gw.lastRequest()
	assert.Equal(t, "https://api.pharmalink.test/api/v1/cart/payment-success", req.SuccessURL)
	assert.Equal(t, 1, req.Payload.NumberOfPharmacies)
	assert.True(t, req.Payload.DeliveryCharge.Equal(decimal.RequireFromString("60")))
	assert.True(t, req.Payload.PlatformFee.Equal(decimal.RequireFromString("0.06")))
	assert.Equal(t, int64(0), f.orderCount(t), "initiating a payment creates no orders")
	assert.Equal(t, 5, dbtest.Stock(t, f.client, f.entry.PharmacyID, f.entry.MedicineID))

	f.approve(started.TransactionID, started.Amount)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	require.NotNil(t, outcome.Settlement)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, 1, outcome.Settlement.Summary.OrderCount)
	assert.True(t, outcome.Settlement.Summary.GrandTotal.Equal(started.Amount))
	assert.Equal(t, int64(1), f.orderCount(t))
	assert.Equal(t, 3, dbtest.Stock(t, f.client, f.entry.PharmacyID, f.entry.MedicineID))

	var order models.Order
	require.NoError(t, f.client.DB().First(&order, "customer_id = ?", f.customer.UserID).Error)
	require.NotNil(t, order.TransactionID)
	assert.Equal(t, started.TransactionID, *order.TransactionID)
	assert.Equal(t, enums.PaymentMethodGateway, order.PaymentMethod)

	stored := f.session(t, started.TransactionID)
	assert.Equal(t, enums.PaymentSessionSettled, stored.Status)
	require.NotNil(t, stored.SettlementID)
	assert.Equal(t, outcome.Settlement.SettlementID, *stored.SettlementID)

	again, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(1), f.orderCount(t), "replayed callback must not create orders")
	assert.Equal(t, 1, f.gw.validated, "replay short-circuits before validation")
}

func TestSuccessFailsClosedWithoutGatewayConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)

	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentValidationFailed))

	f.gw.validateErr = errors.New("gateway timeout")
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentValidationFailed))
	f.gw.validateErr = nil

	f.approve(started.TransactionID, started.Amount.Add(decimal.NewFromInt(1)))
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentValidationFailed), "amount mismatch")

	f.approve("PLCOTHER", started.Amount)
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentValidationFailed), "transaction mismatch")

	f.approve(started.TransactionID, started.Amount)
	cb := f.successCallback(t, started.TransactionID)
	cb.Opaque = "not-a-payload"
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, cb)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentValidationFailed), "tampered payload")

	assert.Equal(t, int64(0), f.orderCount(t))
	assert.Equal(t, 5, dbtest.Stock(t, f.client, f.entry.PharmacyID, f.entry.MedicineID))
	assert.Equal(t, enums.PaymentSessionInitiated, f.session(t, started.TransactionID).Status)
}

func TestEmptyCartAtCallbackIsNothingToSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Where("customer_id = ?", f.customer.UserID).Delete(&models.CartLine{}).Error)

	f.approve(started.TransactionID, started.Amount)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.Nil(t, outcome)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle))
	assert.Equal(t, int64(0), f.orderCount(t))

	stored := f.session(t, started.TransactionID)
	assert.Equal(t, enums.PaymentSessionRejected, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, string(pkgerrors.CodeNothingToSettle))
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventPaymentSettlementRejected))

	redirect := f.svc.RedirectURL(enums.PaymentSessionKindCart, outcome, err)
	assert.True(t, strings.HasPrefix(redirect, "https://app.pharmalink.test/payment/failed?"))
	assert.Contains(t, redirect, "error="+string(pkgerrors.CodeNothingToSettle))
}

func TestRejectedPaymentNeverSettlesARefilledCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Where("customer_id = ?", f.customer.UserID).Delete(&models.CartLine{}).Error)
	f.approve(started.TransactionID, started.Amount)
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle))
	validated := f.gw.validated

	f.addToCart(t, 4)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.Nil(t, outcome)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle), "replayed callback: %v", err)
	assert.Equal(t, validated, f.gw.validated, "a rejected session is not validated again")

	_, err = f.svc.HandleIPN(ctx, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle))

	assert.Equal(t, int64(0), f.orderCount(t))
	assert.Equal(t, 5, dbtest.Stock(t, f.client, f.entry.PharmacyID, f.entry.MedicineID))
	assert.Equal(t, enums.PaymentSessionRejected, f.session(t, started.TransactionID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventPaymentSettlementRejected))

	var lines int64
	require.NoError(t, f.client.DB().Model(&models.CartLine{}).Where("customer_id = ?", f.customer.UserID).Count(&lines).Error)
	assert.Equal(t, int64(1), lines, "the refilled cart is left for a new payment")
}

func TestGatewayFailedSessionThatCannotSettleIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)

	_, err = f.svc.HandleFailure(ctx, enums.PaymentSessionKindCart, Callback{TransactionID: started.TransactionID, Status: "FAILED"}, enums.PaymentSessionFailed)
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Where("customer_id = ?", f.customer.UserID).Delete(&models.CartLine{}).Error)

	f.approve(started.TransactionID, started.Amount)
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle))
	assert.Equal(t, enums.PaymentSessionRejected, f.session(t, started.TransactionID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventPaymentSettlementRejected), "captured funds still reach operations")
}

func TestCallbackGuardShedsConcurrentDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)
	f.approve(started.TransactionID, started.Amount)

	held := f.store.CallbackKey(string(enums.PaymentSessionKindCart), started.TransactionID)
	f.store.keys[held] = true
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeBusy))
	assert.Equal(t, 0, f.gw.validated)

	delete(f.store.keys, held)
	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	assert.Empty(t, f.store.keys, "guard is released after reconciliation")
}

func TestCartPaymentInitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "empty cart")

	f.addToCart(t, 9)
	_, err = f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock))

	_, err = f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "delivery"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "delivery needs an address")

	pharmacyID := f.entry.PharmacyID
	_, err = f.svc.InitiateCartPayment(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RolePharmacy, PharmacyID: &pharmacyID}, CartInitInput{DeliveryType: "pickup"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestGatewayInitFailureMarksSessionFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	f.gw.initErr = gateway.ErrSessionRejected

	_, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	tranID := f.gw.lastRequest().TransactionID
	assert.Equal(t, enums.PaymentSessionFailed, f.session(t, tranID).Status)
}

func seedReservation(t *testing.T, f fixture) models.Reservation {
	t.Helper()
	r := models.Reservation{
		ID:             uuid.New(),
		CustomerID:     f.customer.UserID,
		PharmacyID:     f.entry.PharmacyID,
		MedicineID:     f.entry.MedicineID,
		Quantity:       1,
		UnitPrice:      decimal.RequireFromString("10.00"),
		TotalPrice:     decimal.RequireFromString("10.00"),
		DeliveryCharge: decimal.Zero,
		PlatformFee:    decimal.RequireFromString("0.03"),
		GrandTotal:     decimal.RequireFromString("10.03"),
		DeliveryOption: enums.DeliveryTypePickup,
		Status:         enums.ReservationStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
	}
	require.NoError(t, f.client.DB().Create(&r).Error)
	return r
}

func TestReservationPaymentConfirmsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reservation := seedReservation(t, f)

	_, err := f.svc.InitiateReservationPayment(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleCustomer}, reservation.ID, ReservationInitInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	started, err := f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	require.NoError(t, err)
	assert.True(t, started.Amount.Equal(decimal.RequireFromString("10.03")))
	assert.Equal(t, "https://api.pharmalink.test/api/v1/reservations/payment-success", f.gw.lastRequest().SuccessURL)

	_, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "kind must match the session")

	f.approve(started.TransactionID, started.Amount)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindReservation, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	require.NotNil(t, outcome.ReservationID)
	assert.Equal(t, reservation.ID, *outcome.ReservationID)

	var stored models.Reservation
	require.NoError(t, f.client.DB().First(&stored, "id = ?", reservation.ID).Error)
	assert.Equal(t, enums.ReservationStatusConfirmed, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, 5, dbtest.Stock(t, f.client, f.entry.PharmacyID, f.entry.MedicineID), "payment does not take stock")
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventReservationPaid))

	_, err = f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "already paid")

	replayed, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindReservation, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventReservationPaid))
}

func TestSecondCaptureForPaidReservationIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reservation := seedReservation(t, f)

	first, err := f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	require.NoError(t, err)
	second, err := f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	require.NoError(t, err)
	require.NotEqual(t, first.TransactionID, second.TransactionID)

	superseded := f.session(t, first.TransactionID)
	assert.Equal(t, enums.PaymentSessionCancelled, superseded.Status)
	require.NotNil(t, superseded.FailureReason)
	assert.Contains(t, *superseded.FailureReason, second.TransactionID)

	f.approve(first.TransactionID, first.Amount)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindReservation, f.successCallback(t, first.TransactionID))
	require.NoError(t, err, "a capture on the superseded session still reconciles")
	assert.Equal(t, enums.PaymentSessionSettled, outcome.Status)

	f.approve(second.TransactionID, second.Amount)
	outcome, err = f.svc.HandleSuccess(ctx, enums.PaymentSessionKindReservation, f.successCallback(t, second.TransactionID))
	assert.Nil(t, outcome)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle), "second capture: %v", err)

	assert.Equal(t, enums.PaymentSessionSettled, f.session(t, first.TransactionID).Status)
	assert.Equal(t, enums.PaymentSessionRejected, f.session(t, second.TransactionID).Status)
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventReservationPaid))
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventPaymentSettlementRejected))

	var stored models.Reservation
	require.NoError(t, f.client.DB().First(&stored, "id = ?", reservation.ID).Error)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, first.TransactionID, *stored.TransactionID)
}

func TestFailureCallbackLeavesExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reservation := seedReservation(t, f)
	started, err := f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	outcome, err := f.svc.HandleFailure(ctx, enums.PaymentSessionKindReservation, Callback{TransactionID: started.TransactionID, Status: "FAILED"}, enums.PaymentSessionFailed)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentSessionExpired, outcome.Status)
	assert.Equal(t, enums.PaymentSessionExpired, f.session(t, started.TransactionID).Status)
	assert.Equal(t, int64(0), f.eventCount(t, enums.EventPaymentFailed))

	var stored models.Reservation
	require.NoError(t, f.client.DB().First(&stored, "id = ?", reservation.ID).Error)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)

	f.approve(started.TransactionID, started.Amount)
	settled, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindReservation, f.successCallback(t, started.TransactionID))
	require.NoError(t, err, "the expired session still settles on a validated capture")
	assert.Equal(t, enums.PaymentSessionSettled, settled.Status)
}

func TestFailureAndCancelAreInformational(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reservation := seedReservation(t, f)
	started, err := f.svc.InitiateReservationPayment(ctx, f.customer, reservation.ID, ReservationInitInput{})
	require.NoError(t, err)

	outcome, err := f.svc.HandleFailure(ctx, enums.PaymentSessionKindReservation, Callback{TransactionID: started.TransactionID, Status: "CANCELLED"}, enums.PaymentSessionCancelled)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentSessionCancelled, outcome.Status)
	assert.Contains(t, f.svc.RedirectURL(enums.PaymentSessionKindReservation, outcome, nil), "/payment/cancelled?")

	var stored models.Reservation
	require.NoError(t, f.client.DB().First(&stored, "id = ?", reservation.ID).Error)
	assert.Equal(t, enums.PaymentStatusCancelled, stored.PaymentStatus)
	assert.Equal(t, enums.ReservationStatusPending, stored.Status)

	again, err := f.svc.HandleFailure(ctx, enums.PaymentSessionKindReservation, Callback{TransactionID: started.TransactionID, Status: "FAILED"}, enums.PaymentSessionFailed)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentSessionCancelled, again.Status, "terminal sessions are not overwritten")
	assert.Equal(t, int64(1), f.eventCount(t, enums.EventPaymentFailed))

	_, err = f.svc.HandleFailure(ctx, enums.PaymentSessionKindReservation, Callback{TransactionID: "missing"}, enums.PaymentSessionFailed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestIPNRoutesBySessionKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)
	f.approve(started.TransactionID, started.Amount)

	outcome, err := f.svc.HandleIPN(ctx, f.successCallback(t, started.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentSessionSettled, outcome.Status)
	assert.Equal(t, int64(1), f.orderCount(t))

	redirect := f.svc.RedirectURL(enums.PaymentSessionKindCart, outcome, nil)
	assert.True(t, strings.HasPrefix(redirect, "https://app.pharmalink.test/payment/success?"))
	assert.Contains(t, redirect, "settlement_id=")
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, 1)
	started, err := f.svc.InitiateCartPayment(ctx, f.customer, CartInitInput{DeliveryType: "pickup"})
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = f.svc.ExpireStale(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, enums.PaymentSessionExpired, f.session(t, started.TransactionID).Status)

	f.approve(started.TransactionID, started.Amount)
	outcome, err := f.svc.HandleSuccess(ctx, enums.PaymentSessionKindCart, f.successCallback(t, started.TransactionID))
	require.NoError(t, err, "a late validated callback still settles")
	assert.Equal(t, enums.PaymentSessionSettled, outcome.Status)
}
