package deliveries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service tracks the delivery leg of accepted reservations.
type Service interface {
	Create(ctx context.Context, principal auth.Principal, input CreateInput) (*DeliveryDTO, error)
	UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, input UpdateStatusInput) (*DeliveryDTO, error)
	Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*DeliveryDTO, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	outbox outbox.Emitter
}

// NewService wires the delivery service.
func NewService(tx txRunner, repo Repository, emitter outbox.Emitter) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{tx: tx, repo: repo, outbox: emitter}, nil
}

func (s *service) Create(ctx context.Context, principal auth.Principal, input CreateInput) (*DeliveryDTO, error) {
	if input.ReservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservationId is required")
	}

	var out models.Delivery
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reservation, err := repo.LockReservation(ctx, input.ReservationID)
		if errors.Is(err, ErrReservationNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
		if !principal.OwnsPharmacy(reservation.PharmacyID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the owning pharmacy can dispatch this reservation")
		}
		if reservation.Status != enums.ReservationStatusAccepted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation must be accepted before delivery").
				WithDetails(map[string]any{"status": reservation.Status})
		}
		if reservation.DeliveryOption != enums.DeliveryTypeDelivery {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation is for pickup")
		}

		address := strings.TrimSpace(input.Address)
		if address == "" && reservation.Address != nil {
			address = *reservation.Address
		}
		if address == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "delivery address is required")
		}

		out = models.Delivery{
			ID:            uuid.New(),
			ReservationID: reservation.ID,
			PharmacyID:    reservation.PharmacyID,
			CustomerID:    reservation.CustomerID,
			Address:       address,
			Status:        enums.DeliveryStatusPending,
			CourierID:     input.CourierID,
		}
		if err := repo.Create(ctx, &out); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "delivery already exists for this reservation")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
		}
		return s.emit(ctx, tx, principal, out, "", string(out.Status))
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(out)
	return &dto, nil
}

// UpdateStatus moves a delivery within pending, out_for_delivery and
// delivered. Delivered is final and cascades to the reservation.
func (s *service) UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, input UpdateStatusInput) (*DeliveryDTO, error) {
	status, err := enums.ParseDeliveryStatus(strings.TrimSpace(input.Status))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "status must be pending, out_for_delivery or delivered")
	}

	var out models.Delivery
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery, err := repo.LockByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
		}
		if !principal.OwnsPharmacy(delivery.PharmacyID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the owning pharmacy can update this delivery")
		}
		if delivery.Status == enums.DeliveryStatusDelivered && status != enums.DeliveryStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery already completed")
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": status, "updated_at": now}
		if input.CourierID != nil {
			updates["courier_id"] = *input.CourierID
			delivery.CourierID = input.CourierID
		}
		if status == enums.DeliveryStatusDelivered && delivery.DeliveredAt == nil {
			updates["delivered_at"] = now
			delivery.DeliveredAt = &now
		}
		if err := repo.Update(ctx, delivery.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivery")
		}
		if status == enums.DeliveryStatusDelivered {
			if err := repo.MarkReservationDelivered(ctx, delivery.ReservationID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation")
			}
		}

		from := delivery.Status
		delivery.Status = status
		delivery.UpdatedAt = now
		out = *delivery
		if from == status {
			return nil
		}
		return s.emit(ctx, tx, principal, out, string(from), string(status))
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(out)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*DeliveryDTO, error) {
	delivery, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	if !principal.CanRead(delivery.CustomerID, delivery.PharmacyID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "delivery belongs to another account")
	}
	dto := FromModel(*delivery)
	return &dto, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, principal auth.Principal, d models.Delivery, from, to string) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryStatusChanged,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   d.ID,
		Actor:         &outbox.ActorRef{UserID: principal.UserID, PharmacyID: principal.PharmacyID, Role: principal.Role.String()},
		Data: outbox.StatusChanged{
			ID:         d.ID,
			PharmacyID: d.PharmacyID,
			CustomerID: d.CustomerID,
			From:       from,
			To:         to,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit delivery event")
	}
	return nil
}
