package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/checkout"
	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/internal/reservations"
	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/gateway"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/metrics"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
	"github.com/pharmalink/pharmalink-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the hosted-checkout surface the service calls.
type Gateway interface {
	InitSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	Validate(ctx context.Context, validationID string) (*gateway.Validation, error)
}

// Service opens gateway sessions and reconciles their callbacks.
type Service interface {
	InitiateCartPayment(ctx context.Context, principal auth.Principal, input CartInitInput) (*InitResult, error)
	InitiateReservationPayment(ctx context.Context, principal auth.Principal, reservationID uuid.UUID, input ReservationInitInput) (*InitResult, error)
	HandleSuccess(ctx context.Context, kind enums.PaymentSessionKind, cb Callback) (*Outcome, error)
	HandleFailure(ctx context.Context, kind enums.PaymentSessionKind, cb Callback, status enums.PaymentSessionStatus) (*Outcome, error)
	HandleIPN(ctx context.Context, cb Callback) (*Outcome, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	RedirectURL(kind enums.PaymentSessionKind, outcome *Outcome, err error) string
}

// Params groups the service's collaborators.
type Params struct {
	Tx           txRunner
	Sessions     Repository
	Carts        cart.Repository
	Reservations reservations.Repository
	Inventory    *inventory.Repository
	Calculator   *fees.Calculator
	Engine       *checkout.Engine
	Gateway      Gateway
	Guard        *CallbackGuard
	Outbox       outbox.Emitter
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
	Config       config.GatewayConfig
}

type service struct {
	tx           txRunner
	sessions     Repository
	carts        cart.Repository
	reservations reservations.Repository
	inventory    *inventory.Repository
	calc         *fees.Calculator
	engine       *checkout.Engine
	gateway      Gateway
	guard        *CallbackGuard
	outbox       outbox.Emitter
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
	cfg          config.GatewayConfig
}

func NewService(p Params) (Service, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Sessions == nil:
		return nil, fmt.Errorf("payment session repository required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case p.Reservations == nil:
		return nil, fmt.Errorf("reservation repository required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory repository required")
	case p.Calculator == nil:
		return nil, fmt.Errorf("fee calculator required")
	case p.Engine == nil:
		return nil, fmt.Errorf("checkout engine required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:           p.Tx,
		sessions:     p.Sessions,
		carts:        p.Carts,
		reservations: p.Reservations,
		inventory:    p.Inventory,
		calc:         p.Calculator,
		engine:       p.Engine,
		gateway:      p.Gateway,
		guard:        p.Guard,
		outbox:       p.Outbox,
		metrics:      p.Metrics,
		logg:         logg,
		cfg:          p.Config,
	}, nil
}

// InitiateCartPayment prices the current cart and opens a gateway session.
// No order or inventory row changes until the success callback settles.
func (s *service) InitiateCartPayment(ctx context.Context, principal auth.Principal, input CartInitInput) (*InitResult, error) {
	if !principal.IsCustomer() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can pay for a cart")
	}
	mode, address, err := checkout.ValidateDelivery(input.DeliveryType, input.DeliveryAddress)
	if err != nil {
		return nil, err
	}

	lines, err := s.carts.ListByCustomer(ctx, principal.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for _, line := range lines {
		entry, err := s.inventory.FindEntry(ctx, line.PharmacyID, line.MedicineID)
		if err != nil {
			return nil, err
		}
		if err := inventory.EnsureStock(*entry, line.Quantity); err != nil {
			return nil, err
		}
	}
	breakdown, err := s.calc.Compute(cart.FeeItems(lines), mode)
	if err != nil {
		return nil, err
	}

	payload := types.SettlementPayload{
		CustomerID:         principal.UserID,
		DeliveryType:       string(mode),
		DeliveryAddress:    address,
		NumberOfPharmacies: breakdown.Summary.NumberOfPharmacies,
		DeliveryCharge:     breakdown.Summary.TotalDeliveryCharge,
		PlatformFee:        breakdown.Summary.TotalPlatformFee,
	}
	session := models.PaymentSession{
		ID:            uuid.New(),
		TransactionID: newTransactionID("C"),
		Kind:          enums.PaymentSessionKindCart,
		CustomerID:    principal.UserID,
		Amount:        breakdown.Summary.GrandTotal,
		Currency:      s.currency(),
		Payload:       payload,
		Status:        enums.PaymentSessionInitiated,
	}
	if err := s.sessions.Create(ctx, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment session")
	}

	product := fmt.Sprintf("Medicine order (%d items)", len(lines))
	return s.openSession(ctx, session, product, address, input.Contact)
}

// InitiateReservationPayment opens a gateway session for one pending,
// unpaid reservation at its stored grand total.
func (s *service) InitiateReservationPayment(ctx context.Context, principal auth.Principal, reservationID uuid.UUID, input ReservationInitInput) (*InitResult, error) {
	var session models.PaymentSession
	var address string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.reservations.WithTx(tx)
		reservation, err := repo.LockByID(ctx, reservationID)
		if errors.Is(err, reservations.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if reservation.CustomerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another customer")
		}
		if reservation.PaymentStatus == enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is already paid")
		}
		if reservation.Status != enums.ReservationStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending reservations can be paid").
				WithDetails(map[string]any{"status": reservation.Status})
		}
		if reservation.Address != nil {
			address = *reservation.Address
		}

		tranID := newTransactionID("R")
		sessions := s.sessions.WithTx(tx)
		if reservation.TransactionID != nil {
			if err := supersede(ctx, sessions, *reservation.TransactionID, tranID); err != nil {
				return err
			}
		}

		resID := reservation.ID
		session = models.PaymentSession{
			ID:            uuid.New(),
			TransactionID: tranID,
			Kind:          enums.PaymentSessionKindReservation,
			CustomerID:    reservation.CustomerID,
			ReservationID: &resID,
			Amount:        reservation.GrandTotal,
			Currency:      s.currency(),
			Payload: types.SettlementPayload{
				CustomerID:         reservation.CustomerID,
				DeliveryType:       string(reservation.DeliveryOption),
				DeliveryAddress:    address,
				NumberOfPharmacies: 1,
				DeliveryCharge:     reservation.DeliveryCharge,
				PlatformFee:        reservation.PlatformFee,
				ReservationID:      &resID,
			},
			Status: enums.PaymentSessionInitiated,
		}
		if err := sessions.Create(ctx, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment session")
		}
		if err := repo.Update(ctx, reservation.ID, map[string]any{
			"transaction_id": session.TransactionID,
			"payment_status": enums.PaymentStatusPending,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach transaction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, session, "Medicine reservation", address, input.Contact)
}

// supersede cancels a reservation's previous session that never reached the
// gateway's callback. A payment captured on it later still reconciles, and a
// second capture is rejected for refund.
func supersede(ctx context.Context, sessions Repository, previous, next string) error {
	prior, err := sessions.LockByTransactionID(ctx, previous)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock previous payment session")
	}
	if prior.Status != enums.PaymentSessionInitiated {
		return nil
	}
	if err := sessions.Update(ctx, previous, map[string]any{
		"status":         enums.PaymentSessionCancelled,
		"failure_reason": "superseded by " + next,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel previous payment session")
	}
	return nil
}

// openSession calls the gateway outside any transaction. A gateway failure
// marks the session failed so it never reconciles.
func (s *service) openSession(ctx context.Context, session models.PaymentSession, product, address string, contact Contact) (*InitResult, error) {
	logCtx := s.logg.WithTransactionID(ctx, session.TransactionID)
	callbackBase := s.callbackBase(session.Kind)
	gw, err := s.gateway.InitSession(ctx, gateway.SessionRequest{
		TransactionID: session.TransactionID,
		Amount:        session.Amount,
		Currency:      session.Currency,
		ProductName:   product,
		CustomerName:  contact.CustomerName,
		CustomerEmail: contact.CustomerEmail,
		CustomerPhone: contact.CustomerPhone,
		Address:       address,
		SuccessURL:    callbackBase + "/payment-success",
		FailURL:       callbackBase + "/payment-fail",
		CancelURL:     callbackBase + "/payment-cancel",
		IPNURL:        s.publicBase() + "/api/v1/payments/ipn",
		Payload:       session.Payload,
	})
	if err != nil {
		s.logg.Error(logCtx, "gateway session init failed", err)
		reason := err.Error()
		if updateErr := s.sessions.Update(ctx, session.TransactionID, map[string]any{
			"status":         enums.PaymentSessionFailed,
			"failure_reason": truncate(reason),
		}); updateErr != nil {
			s.logg.Error(logCtx, "mark payment session failed", updateErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway unavailable")
	}
	if err := s.sessions.Update(ctx, session.TransactionID, map[string]any{"gateway_url": gw.RedirectURL}); err != nil {
		s.logg.Warn(logCtx, "store gateway url failed: "+err.Error())
	}
	s.logg.Info(logCtx, "payment session opened")
	return &InitResult{
		GatewayURL:    gw.RedirectURL,
		TransactionID: session.TransactionID,
		Amount:        session.Amount,
		Currency:      session.Currency,
	}, nil
}

// HandleSuccess reconciles a success callback. The gateway is asked to
// confirm the payment before any transaction opens; a settled session
// replays without creating orders again.
func (s *service) HandleSuccess(ctx context.Context, kind enums.PaymentSessionKind, cb Callback) (*Outcome, error) {
	tranID := strings.TrimSpace(cb.TransactionID)
	if tranID == "" || strings.TrimSpace(cb.ValidationID) == "" {
		s.metrics.Callback(string(kind), string(pkgerrors.CodeValidation))
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id and val_id are required")
	}
	ctx = s.logg.WithTransactionID(ctx, tranID)

	session, err := s.findSession(ctx, kind, tranID)
	if err != nil {
		s.metrics.Callback(string(kind), codeOf(err))
		return nil, err
	}
	if session.Status == enums.PaymentSessionSettled {
		s.metrics.Callback(string(kind), "replayed")
		return replay(*session), nil
	}
	if session.Status == enums.PaymentSessionRejected {
		s.metrics.Callback(string(kind), string(pkgerrors.CodeNothingToSettle))
		return nil, alreadyRejected(*session)
	}

	if s.guard != nil {
		acquired, err := s.guard.Acquire(ctx, string(kind), tranID)
		switch {
		case err != nil:
			s.logg.Warn(ctx, "callback guard unavailable: "+err.Error())
		case !acquired:
			s.metrics.Callback(string(kind), string(pkgerrors.CodeBusy))
			return nil, pkgerrors.New(pkgerrors.CodeBusy, "callback already being processed")
		default:
			defer func() {
				if err := s.guard.Release(context.WithoutCancel(ctx), string(kind), tranID); err != nil {
					s.logg.Warn(ctx, "release callback guard: "+err.Error())
				}
			}()
		}
	}

	if err := s.confirm(ctx, *session, cb); err != nil {
		s.metrics.Callback(string(kind), codeOf(err))
		s.logg.Warn(ctx, "payment validation failed: "+err.Error())
		return nil, err
	}
	validationID := strings.TrimSpace(cb.ValidationID)

	start := time.Now()
	var outcome *Outcome
	switch kind {
	case enums.PaymentSessionKindCart:
		var result *checkout.Result
		outcome, result, err = s.settleCart(ctx, *session, validationID)
		err = checkout.MapTxError(err)
		s.engine.Observe(metrics.SourceCartPayment, start, err, result)
	default:
		outcome, err = s.settleReservation(ctx, *session, validationID)
		err = checkout.MapTxError(err)
		s.observe(metrics.SourceReservationPayment, start, err)
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNothingToSettle) || pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) || pkgerrors.IsCode(err, pkgerrors.CodeNotCarried) {
			s.reject(ctx, *session, err)
		}
		s.metrics.Callback(string(kind), codeOf(err))
		s.logg.Error(ctx, "payment reconciliation failed", err)
		return nil, err
	}

	result := "settled"
	if outcome.Replayed {
		result = "replayed"
	}
	s.metrics.Callback(string(kind), result)
	s.logg.Info(ctx, "payment reconciled")
	return outcome, nil
}

// confirm fails closed unless the gateway itself reports the payment as
// captured for this transaction and amount.
func (s *service) confirm(ctx context.Context, session models.PaymentSession, cb Callback) error {
	if opaque := strings.TrimSpace(cb.Opaque); opaque != "" {
		echoed, err := gateway.DecodePayload(opaque)
		if err != nil || !session.Payload.Matches(*echoed) {
			return pkgerrors.New(pkgerrors.CodePaymentValidationFailed, "callback payload does not match the payment session")
		}
	}
	validation, err := s.gateway.Validate(ctx, strings.TrimSpace(cb.ValidationID))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentValidationFailed, err, "payment could not be validated")
	}
	if !validation.Confirmed() {
		return pkgerrors.New(pkgerrors.CodePaymentValidationFailed, "payment was not validated by the gateway").
			WithDetails(map[string]any{"status": validation.Status})
	}
	if validation.TransactionID != "" && validation.TransactionID != session.TransactionID {
		return pkgerrors.New(pkgerrors.CodePaymentValidationFailed, "validated transaction does not match")
	}
	if !validation.Amount.Equal(session.Amount) {
		return pkgerrors.New(pkgerrors.CodePaymentValidationFailed, "validated amount does not match").
			WithDetails(map[string]any{"expected": session.Amount.StringFixed(2), "validated": validation.Amount.StringFixed(2)})
	}
	return nil
}

// settleCart re-reads the customer's current cart and settles it with the
// fee totals fixed when the session opened.
func (s *service) settleCart(ctx context.Context, session models.PaymentSession, validationID string) (*Outcome, *checkout.Result, error) {
	var outcome *Outcome
	var result *checkout.Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		locked, err := sessions.LockByTransactionID(ctx, session.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment session")
		}
		if locked.Status == enums.PaymentSessionSettled {
			outcome = replay(*locked)
			return nil
		}
		if locked.Status == enums.PaymentSessionRejected {
			return alreadyRejected(*locked)
		}

		payload := locked.Payload
		mode, err := enums.ParseDeliveryType(payload.DeliveryType)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment session has an invalid delivery type")
		}
		tranID := locked.TransactionID
		res, err := s.engine.SettleTx(ctx, tx, checkout.SettleInput{
			CustomerID:      payload.CustomerID,
			DeliveryType:    mode,
			DeliveryAddress: payload.DeliveryAddress,
			PaymentMethod:   enums.PaymentMethodGateway,
			TransactionID:   &tranID,
			Allocation: &checkout.Allocation{
				DeliveryCharge: payload.DeliveryCharge,
				PlatformFee:    payload.PlatformFee,
			},
			Source: metrics.SourceCartPayment,
			Actor:  &outbox.ActorRef{UserID: payload.CustomerID, Role: enums.RoleCustomer.String()},
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := sessions.Update(ctx, tranID, map[string]any{
			"status":        enums.PaymentSessionSettled,
			"validation_id": validationID,
			"settlement_id": res.SettlementID,
			"settled_at":    now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment session")
		}
		result = res
		settlementID := res.SettlementID
		locked.Status = enums.PaymentSessionSettled
		locked.SettlementID = &settlementID
		outcome = &Outcome{
			Kind:          locked.Kind,
			TransactionID: tranID,
			Status:        locked.Status,
			Settlement:    res,
		}
		return nil
	})
	return outcome, result, err
}

// settleReservation marks the reservation paid and moves a pending one to
// confirmed. Stock is still taken only when the pharmacy accepts.
func (s *service) settleReservation(ctx context.Context, session models.PaymentSession, validationID string) (*Outcome, error) {
	var outcome *Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		locked, err := sessions.LockByTransactionID(ctx, session.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment session")
		}
		if locked.Status == enums.PaymentSessionSettled {
			outcome = replay(*locked)
			return nil
		}
		if locked.Status == enums.PaymentSessionRejected {
			return alreadyRejected(*locked)
		}
		if locked.ReservationID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment session has no reservation")
		}

		repo := s.reservations.WithTx(tx)
		reservation, err := repo.LockByID(ctx, *locked.ReservationID)
		if errors.Is(err, reservations.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNothingToSettle, "reservation no longer exists")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reservation")
		}
		if reservation.Status == enums.ReservationStatusRejected {
			return pkgerrors.New(pkgerrors.CodeNothingToSettle, "reservation was rejected")
		}
		if reservation.PaymentStatus == enums.PaymentStatusPaid &&
			(reservation.TransactionID == nil || *reservation.TransactionID != locked.TransactionID) {
			return pkgerrors.New(pkgerrors.CodeNothingToSettle, "reservation is already paid by another transaction")
		}

		now := time.Now().UTC()
		method := string(enums.PaymentMethodGateway)
		updates := map[string]any{
			"payment_status": enums.PaymentStatusPaid,
			"transaction_id": locked.TransactionID,
			"validation_id":  validationID,
			"payment_method": method,
			"paid_at":        now,
			"updated_at":     now,
		}
		from := reservation.Status
		to := from
		if from == enums.ReservationStatusPending {
			to = enums.ReservationStatusConfirmed
			updates["status"] = to
		}
		if reservation.PaymentStatus != enums.PaymentStatusPaid {
			if err := repo.Update(ctx, reservation.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reservation paid")
			}
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationPaid,
				AggregateType: enums.AggregateReservation,
				AggregateID:   reservation.ID,
				Actor:         &outbox.ActorRef{UserID: reservation.CustomerID, Role: enums.RoleCustomer.String()},
				Data: outbox.StatusChanged{
					ID:         reservation.ID,
					PharmacyID: reservation.PharmacyID,
					CustomerID: reservation.CustomerID,
					From:       string(from),
					To:         string(to),
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation paid event")
			}
		}

		if err := sessions.Update(ctx, locked.TransactionID, map[string]any{
			"status":         enums.PaymentSessionSettled,
			"validation_id":  validationID,
			"payment_method": method,
			"settled_at":     now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment session")
		}
		resID := reservation.ID
		outcome = &Outcome{
			Kind:          locked.Kind,
			TransactionID: locked.TransactionID,
			Status:        enums.PaymentSessionSettled,
			ReservationID: &resID,
		}
		return nil
	})
	return outcome, err
}

// reject records a validated payment that could not settle. The session
// becomes rejected so later success callbacks never settle it; the event
// lets operations refund.
func (s *service) reject(ctx context.Context, session models.PaymentSession, cause error) {
	reason := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		reason = string(typed.Code()) + ": " + typed.Message()
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		locked, err := sessions.LockByTransactionID(ctx, session.TransactionID)
		if err != nil {
			return err
		}
		if !locked.Status.IsSettleable() {
			return nil
		}
		if err := sessions.Update(ctx, locked.TransactionID, map[string]any{
			"status":         enums.PaymentSessionRejected,
			"failure_reason": truncate(reason),
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettlementRejected,
			AggregateType: enums.AggregatePaymentSession,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: locked.CustomerID, Role: enums.RoleCustomer.String()},
			Data: outbox.PaymentOutcome{
				TransactionID: locked.TransactionID,
				CustomerID:    locked.CustomerID,
				ReservationID: locked.ReservationID,
				Status:        string(enums.PaymentSessionRejected),
				Reason:        reason,
			},
		})
	})
	if err != nil {
		s.logg.Error(ctx, "record rejected settlement", err)
	}
}

func alreadyRejected(session models.PaymentSession) error {
	details := map[string]any{"transaction_id": session.TransactionID}
	if session.FailureReason != nil {
		details["reason"] = *session.FailureReason
	}
	return pkgerrors.New(pkgerrors.CodeNothingToSettle, "payment was rejected and handed over for refund").
		WithDetails(details)
}

// HandleFailure records a failed or cancelled payment. It never touches
// orders or stock, and never overwrites a terminal or expired session.
func (s *service) HandleFailure(ctx context.Context, kind enums.PaymentSessionKind, cb Callback, status enums.PaymentSessionStatus) (*Outcome, error) {
	if status != enums.PaymentSessionFailed && status != enums.PaymentSessionCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be failed or cancelled")
	}
	tranID := strings.TrimSpace(cb.TransactionID)
	if tranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	ctx = s.logg.WithTransactionID(ctx, tranID)
	if _, err := s.findSession(ctx, kind, tranID); err != nil {
		s.metrics.Callback(string(kind), codeOf(err))
		return nil, err
	}

	var outcome *Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sessions := s.sessions.WithTx(tx)
		locked, err := sessions.LockByTransactionID(ctx, tranID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment session")
		}
		outcome = &Outcome{
			Kind:          locked.Kind,
			TransactionID: tranID,
			Status:        locked.Status,
			ReservationID: locked.ReservationID,
		}
		if locked.Status.IsTerminal() {
			return nil
		}
		reason := strings.TrimSpace(cb.Status)
		updates := map[string]any{"status": status}
		if reason != "" {
			updates["failure_reason"] = truncate(reason)
		}
		if err := sessions.Update(ctx, tranID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment session")
		}
		if locked.ReservationID != nil {
			paymentStatus := enums.PaymentStatusFailed
			if status == enums.PaymentSessionCancelled {
				paymentStatus = enums.PaymentStatusCancelled
			}
			repo := s.reservations.WithTx(tx)
			reservation, err := repo.LockByID(ctx, *locked.ReservationID)
			if err != nil && !errors.Is(err, reservations.ErrNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reservation")
			}
			if reservation != nil && reservation.PaymentStatus != enums.PaymentStatusPaid {
				if err := repo.Update(ctx, reservation.ID, map[string]any{"payment_status": paymentStatus}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation payment")
				}
			}
		}
		outcome.Status = status
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentSession,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: locked.CustomerID, Role: enums.RoleCustomer.String()},
			Data: outbox.PaymentOutcome{
				TransactionID: tranID,
				CustomerID:    locked.CustomerID,
				ReservationID: locked.ReservationID,
				Status:        string(status),
				Reason:        reason,
			},
		})
	})
	if err != nil {
		s.metrics.Callback(string(kind), codeOf(err))
		return nil, err
	}
	s.metrics.Callback(string(kind), string(status))
	s.logg.Info(ctx, "payment "+string(status))
	return outcome, nil
}

// HandleIPN resolves a server-to-server notification. The session decides
// which flow applies; the gateway status decides success or failure.
func (s *service) HandleIPN(ctx context.Context, cb Callback) (*Outcome, error) {
	tranID := strings.TrimSpace(cb.TransactionID)
	if tranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	session, err := s.sessions.FindByTransactionID(ctx, tranID)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment session")
	}
	switch strings.ToUpper(strings.TrimSpace(cb.Status)) {
	case gateway.StatusValid, gateway.StatusValidated:
		return s.HandleSuccess(ctx, session.Kind, cb)
	case "CANCELLED":
		return s.HandleFailure(ctx, session.Kind, cb, enums.PaymentSessionCancelled)
	default:
		return s.HandleFailure(ctx, session.Kind, cb, enums.PaymentSessionFailed)
	}
}

// ExpireStale marks sessions left initiated past the session TTL.
func (s *service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return NewExpirer(s.sessions, s.cfg.SessionTTL).ExpireStale(ctx, now)
}

// RedirectURL is the frontend page a callback sends the browser to.
func (s *service) RedirectURL(kind enums.PaymentSessionKind, outcome *Outcome, err error) string {
	path := "/payment/success"
	q := url.Values{}
	q.Set("kind", string(kind))
	switch {
	case err != nil:
		path = "/payment/failed"
		code := string(pkgerrors.CodeInternal)
		if typed := pkgerrors.As(err); typed != nil {
			code = string(typed.Code())
		}
		q.Set("error", code)
	case outcome == nil:
		path = "/payment/failed"
	case outcome.Status == enums.PaymentSessionCancelled:
		path = "/payment/cancelled"
	case outcome.Status != enums.PaymentSessionSettled:
		path = "/payment/failed"
	}
	if outcome != nil {
		q.Set("tran_id", outcome.TransactionID)
		if outcome.Settlement != nil {
			q.Set("settlement_id", outcome.Settlement.SettlementID.String())
		}
		if outcome.ReservationID != nil {
			q.Set("reservation_id", outcome.ReservationID.String())
		}
	}
	return strings.TrimRight(s.cfg.FrontendURL, "/") + path + "?" + q.Encode()
}

func (s *service) findSession(ctx context.Context, kind enums.PaymentSessionKind, tranID string) (*models.PaymentSession, error) {
	session, err := s.sessions.FindByTransactionID(ctx, tranID)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment session not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment session")
	}
	if session.Kind != kind {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment session kind does not match callback")
	}
	return session, nil
}

func (s *service) observe(source string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = codeOf(err)
	}
	s.metrics.Observe(source, outcome, time.Since(start), 0)
}

func (s *service) callbackBase(kind enums.PaymentSessionKind) string {
	if kind == enums.PaymentSessionKindReservation {
		return s.publicBase() + "/api/v1/reservations"
	}
	return s.publicBase() + "/api/v1/cart"
}

func (s *service) publicBase() string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/")
}

func (s *service) currency() string {
	if s.cfg.Currency == "" {
		return "BDT"
	}
	return s.cfg.Currency
}

func replay(session models.PaymentSession) *Outcome {
	return &Outcome{
		Kind:          session.Kind,
		TransactionID: session.TransactionID,
		Status:        session.Status,
		Replayed:      true,
		ReservationID: session.ReservationID,
	}
}

func codeOf(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return string(pkgerrors.CodeInternal)
}

// newTransactionID keeps ids under the gateway's 30 character limit.
func newTransactionID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PL" + prefix + strings.ToUpper(raw[:24])
}

func truncate(value string) string {
	const max = 512
	if len(value) <= max {
		return value
	}
	return value[:max]
}
