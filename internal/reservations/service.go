package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/metrics"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
	"github.com/pharmalink/pharmalink-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service runs the reservation lifecycle.
type Service interface {
	Create(ctx context.Context, principal auth.Principal, input CreateInput) (*ReservationDTO, error)
	Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*ReservationDTO, error)
	List(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[ReservationDTO], error)
	UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, status enums.ReservationStatus) (*ReservationDTO, error)
	Cancel(ctx context.Context, principal auth.Principal, id uuid.UUID) error
}

// Params groups the service's collaborators.
type Params struct {
	Tx          txRunner
	Repo        Repository
	Inventory   *inventory.Repository
	Ledger      *inventory.Ledger
	Calculator  *fees.Calculator
	Outbox      outbox.Emitter
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
	LockTimeout time.Duration
}

type service struct {
	tx          txRunner
	repo        Repository
	inventory   *inventory.Repository
	ledger      *inventory.Ledger
	calc        *fees.Calculator
	outbox      outbox.Emitter
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
	lockTimeout time.Duration
}

// NewService wires the reservation service.
func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory repository required")
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
	return &service{
		tx:          p.Tx,
		repo:        p.Repo,
		inventory:   p.Inventory,
		ledger:      p.Ledger,
		calc:        p.Calculator,
		outbox:      p.Outbox,
		metrics:     p.Metrics,
		logg:        p.Logger,
		lockTimeout: p.LockTimeout,
	}, nil
}

// Create prices the request at the live price and checks stock without
// decrementing it. Stock moves only when the pharmacy accepts.
func (s *service) Create(ctx context.Context, principal auth.Principal, input CreateInput) (*ReservationDTO, error) {
	if !principal.IsCustomer() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can reserve")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	option, err := enums.ParseDeliveryType(strings.TrimSpace(input.DeliveryOption))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "deliveryOption must be pickup or delivery")
	}
	address := strings.TrimSpace(input.Address)
	if option == enums.DeliveryTypeDelivery && address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address is required for delivery")
	}

	var out models.Reservation
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		entry, err := s.inventory.WithTx(tx).FindEntry(ctx, input.PharmacyID, input.MedicineID)
		if err != nil {
			return err
		}
		if err := inventory.EnsureStock(*entry, input.Quantity); err != nil {
			return err
		}
		priced, err := s.price(entry, input.Quantity, option)
		if err != nil {
			return err
		}

		out = models.Reservation{
			ID:             uuid.New(),
			CustomerID:     principal.UserID,
			PharmacyID:     input.PharmacyID,
			MedicineID:     input.MedicineID,
			Quantity:       input.Quantity,
			UnitPrice:      entry.Price,
			TotalPrice:     priced.LineTotal,
			DeliveryCharge: priced.DeliveryCharge,
			PlatformFee:    priced.PlatformFee,
			GrandTotal:     priced.GrandTotal,
			DeliveryOption: option,
			Status:         enums.ReservationStatusPending,
			PaymentStatus:  enums.PaymentStatusPending,
		}
		if option == enums.DeliveryTypeDelivery {
			out.Address = &address
		}
		if err := s.repo.WithTx(tx).Create(ctx, &out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}
		return s.emit(ctx, tx, principal, enums.EventReservationCreated, out, "", string(out.Status))
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(out)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*ReservationDTO, error) {
	reservation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !principal.CanRead(reservation.CustomerID, reservation.PharmacyID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another account")
	}
	dto := FromModel(*reservation)
	return &dto, nil
}

func (s *service) List(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[ReservationDTO], error) {
	filter := Filter{}
	switch {
	case principal.IsAdmin():
	case principal.IsCustomer():
		filter.CustomerID = &principal.UserID
	case principal.PharmacyID != nil:
		filter.PharmacyID = principal.PharmacyID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "no pharmacy bound to principal")
	}
	page, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "list reservations")
	}
	items := make([]ReservationDTO, len(page.Items))
	for i, row := range page.Items {
		items[i] = FromModel(row)
	}
	return &pagination.Page[ReservationDTO]{Items: items, NextCursor: page.NextCursor}, nil
}

// UpdateStatus applies a pharmacy transition. Accepting re-checks stock
// under lock and decrements it; an unpaid reservation is repriced at the
// live price. Delivered cascades to the linked delivery.
func (s *service) UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, status enums.ReservationStatus) (*ReservationDTO, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation status")
	}

	start := time.Now()
	var out models.Reservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := db.SetLockTimeout(tx, s.lockTimeout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set lock timeout")
		}
		repo := s.repo.WithTx(tx)
		reservation, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapRepoErr(err)
		}
		if !principal.OwnsPharmacy(reservation.PharmacyID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the owning pharmacy can update this reservation")
		}
		if !reservation.Status.CanTransitionTo(status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation status transition not allowed").
				WithDetails(map[string]any{"from": reservation.Status, "to": status})
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": status, "updated_at": now}
		switch status {
		case enums.ReservationStatusAccepted:
			livePrice, err := s.ledger.CheckAndReserve(ctx, tx, reservation.PharmacyID, reservation.MedicineID, reservation.Quantity)
			if err != nil {
				return err
			}
			if err := s.ledger.CommitDecrement(ctx, tx, reservation.PharmacyID, reservation.MedicineID, reservation.Quantity); err != nil {
				return err
			}
			if reservation.PaymentStatus != enums.PaymentStatusPaid && !livePrice.Equal(reservation.UnitPrice) {
				priced, err := s.price(&models.InventoryEntry{PharmacyID: reservation.PharmacyID, Price: livePrice}, reservation.Quantity, reservation.DeliveryOption)
				if err != nil {
					return err
				}
				updates["unit_price"] = livePrice
				updates["total_price"] = priced.LineTotal
				updates["delivery_charge"] = priced.DeliveryCharge
				updates["platform_fee"] = priced.PlatformFee
				updates["grand_total"] = priced.GrandTotal
				reservation.UnitPrice = livePrice
				reservation.TotalPrice = priced.LineTotal
				reservation.DeliveryCharge = priced.DeliveryCharge
				reservation.PlatformFee = priced.PlatformFee
				reservation.GrandTotal = priced.GrandTotal
			}
		case enums.ReservationStatusDelivered:
			if _, err := repo.MarkDeliveryDelivered(ctx, reservation.ID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update linked delivery")
			}
		}

		if err := repo.Update(ctx, reservation.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation status")
		}
		from := reservation.Status
		reservation.Status = status
		reservation.UpdatedAt = now
		out = *reservation
		return s.emit(ctx, tx, principal, enums.EventReservationStatusChanged, out, string(from), string(status))
	})
	err = mapTxError(err)
	if status == enums.ReservationStatusAccepted {
		outcome := "ok"
		if typed := pkgerrors.As(err); typed != nil {
			outcome = string(typed.Code())
		}
		created := 0
		if err == nil {
			created = 1
		}
		s.metrics.Observe(metrics.SourceReservationAccept, outcome, time.Since(start), created)
	}
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"reservation_id": out.ID.String(),
			"status":         string(out.Status),
		})
		s.logg.Info(s.logg.WithPharmacyID(logCtx, out.PharmacyID.String()), "reservation status updated")
	}
	dto := FromModel(out)
	return &dto, nil
}

// Cancel deletes a pending reservation on behalf of its customer. No stock
// was taken, so none is restored.
func (s *service) Cancel(ctx context.Context, principal auth.Principal, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reservation, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapRepoErr(err)
		}
		if !principal.IsCustomer() || reservation.CustomerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the reserving customer can cancel")
		}
		if reservation.Status != enums.ReservationStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending reservations can be cancelled").
				WithDetails(map[string]any{"status": reservation.Status})
		}
		if reservation.PaymentStatus == enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "paid reservations cannot be cancelled")
		}
		if err := repo.Delete(ctx, reservation.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete reservation")
		}
		return s.emit(ctx, tx, principal, enums.EventReservationStatusChanged, *reservation, string(reservation.Status), "cancelled")
	})
}

func (s *service) price(entry *models.InventoryEntry, quantity int, option enums.DeliveryType) (*fees.Line, error) {
	breakdown, err := s.calc.Compute([]fees.Item{{
		PharmacyID: entry.PharmacyID,
		UnitPrice:  entry.Price,
		Quantity:   quantity,
	}}, option)
	if err != nil {
		return nil, err
	}
	return &breakdown.Lines[0], nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, principal auth.Principal, eventType enums.OutboxEventType, r models.Reservation, from, to string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateReservation,
		AggregateID:   r.ID,
		Actor:         &outbox.ActorRef{UserID: principal.UserID, PharmacyID: principal.PharmacyID, Role: principal.Role.String()},
		Data: outbox.StatusChanged{
			ID:         r.ID,
			PharmacyID: r.PharmacyID,
			CustomerID: r.CustomerID,
			From:       from,
			To:         to,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit reservation event")
	}
	return nil
}

func mapRepoErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	if db.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, "reservation is locked")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
}

func mapTxError(err error) error {
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	if db.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeBusy, err, "inventory is locked by another settlement")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reservation update failed")
}
