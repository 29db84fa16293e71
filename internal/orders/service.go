package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
	"github.com/pharmalink/pharmalink-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes order reads and pharmacy status transitions.
type Service interface {
	List(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[OrderDTO], error)
	Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*OrderDTO, error)
	UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, status enums.OrderStatus) (*OrderDTO, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	outbox outbox.Emitter
}

// NewService wires the orders service.
func NewService(tx txRunner, repo Repository, emitter outbox.Emitter) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{tx: tx, repo: repo, outbox: emitter}, nil
}

func (s *service) List(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[OrderDTO], error) {
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "list orders")
	}
	return &pagination.Page[OrderDTO]{Items: FromModels(page.Items), NextCursor: page.NextCursor}, nil
}

func (s *service) Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !principal.CanRead(order.CustomerID, order.PharmacyID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another account")
	}
	dto := FromModel(*order)
	return &dto, nil
}

// UpdateStatus applies a pharmacy transition. Moving to delivered stamps
// the delivery date.
func (s *service) UpdateStatus(ctx context.Context, principal auth.Principal, id uuid.UUID, status enums.OrderStatus) (*OrderDTO, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var out OrderDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return mapRepoErr(err)
		}
		if !principal.OwnsPharmacy(order.PharmacyID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the fulfilling pharmacy can update this order")
		}
		if !order.Status.CanTransitionTo(status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
				WithDetails(map[string]any{"from": order.Status, "to": status})
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": status, "updated_at": now}
		if status == enums.OrderStatusDelivered {
			updates["delivery_date"] = now
			order.DeliveryDate = &now
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		from := order.Status
		order.Status = status
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: principal.UserID, PharmacyID: principal.PharmacyID, Role: principal.Role.String()},
			Data: outbox.StatusChanged{
				ID:         order.ID,
				PharmacyID: order.PharmacyID,
				CustomerID: order.CustomerID,
				From:       string(from),
				To:         string(status),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order status event")
		}
		out = FromModel(*order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func mapRepoErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
