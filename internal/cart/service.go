package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/internal/inventory"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages a customer's cart ahead of settlement.
type Service interface {
	AddItem(ctx context.Context, customerID uuid.UUID, input AddItemInput) (*LineDTO, error)
	UpdateQuantity(ctx context.Context, customerID, lineID uuid.UUID, quantity int) (*LineDTO, error)
	RemoveItem(ctx context.Context, customerID, lineID uuid.UUID) error
	Clear(ctx context.Context, customerID uuid.UUID) error
	Get(ctx context.Context, customerID uuid.UUID) (*View, error)
}

type service struct {
	tx        txRunner
	repo      Repository
	inventory *inventory.Repository
	calc      *fees.Calculator
}

// NewService wires the cart service.
func NewService(tx txRunner, repo Repository, inv *inventory.Repository, calc *fees.Calculator) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if calc == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	return &service{tx: tx, repo: repo, inventory: inv, calc: calc}, nil
}

// AddItem snapshots the live price and merges into an existing line for
// the same pharmacy and medicine. The existing snapshot price is kept.
func (s *service) AddItem(ctx context.Context, customerID uuid.UUID, input AddItemInput) (*LineDTO, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.PharmacyID == uuid.Nil || input.MedicineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pharmacyId and medicineId are required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var out models.CartLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := s.inventory.WithTx(tx).FindEntry(ctx, input.PharmacyID, input.MedicineID)
		if err != nil {
			return err
		}

		existing, err := repo.FindByItem(ctx, customerID, input.PharmacyID, input.MedicineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
		}
		if existing != nil {
			quantity := existing.Quantity + input.Quantity
			if err := inventory.EnsureStock(*entry, quantity); err != nil {
				return err
			}
			if err := repo.UpdateQuantity(ctx, existing.ID, quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
			}
			existing.Quantity = quantity
			out = *existing
			return nil
		}

		if err := inventory.EnsureStock(*entry, input.Quantity); err != nil {
			return err
		}
		position, err := repo.NextPosition(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate cart position")
		}
		out = models.CartLine{
			ID:         uuid.New(),
			CustomerID: customerID,
			PharmacyID: input.PharmacyID,
			MedicineID: input.MedicineID,
			Quantity:   input.Quantity,
			Price:      entry.Price,
			Position:   position,
		}
		if err := repo.Create(ctx, &out); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart line was added concurrently, retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart line")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(out)
	return &dto, nil
}

func (s *service) UpdateQuantity(ctx context.Context, customerID, lineID uuid.UUID, quantity int) (*LineDTO, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var out models.CartLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		line, err := repo.FindByID(ctx, customerID, lineID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
		}
		entry, err := s.inventory.WithTx(tx).FindEntry(ctx, line.PharmacyID, line.MedicineID)
		if err != nil {
			return err
		}
		if err := inventory.EnsureStock(*entry, quantity); err != nil {
			return err
		}
		if err := repo.UpdateQuantity(ctx, line.ID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart line")
		}
		line.Quantity = quantity
		out = *line
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := FromModel(out)
	return &dto, nil
}

func (s *service) RemoveItem(ctx context.Context, customerID, lineID uuid.UUID) error {
	removed, err := s.repo.Delete(ctx, customerID, lineID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
	}
	if removed == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	return nil
}

func (s *service) Clear(ctx context.Context, customerID uuid.UUID) error {
	if _, err := s.repo.DeleteByCustomer(ctx, customerID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

func (s *service) Get(ctx context.Context, customerID uuid.UUID) (*View, error) {
	lines, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart")
	}

	view := &View{Lines: make([]LineDTO, 0, len(lines)), Summary: Preview{Subtotal: decimal.Zero}}
	for _, line := range lines {
		view.Lines = append(view.Lines, FromModel(line))
	}
	if len(lines) == 0 {
		return view, nil
	}

	items := FeeItems(lines)
	pickup, err := s.calc.Compute(items, enums.DeliveryTypePickup)
	if err != nil {
		return nil, err
	}
	delivery, err := s.calc.Compute(items, enums.DeliveryTypeDelivery)
	if err != nil {
		return nil, err
	}
	view.Summary = Preview{
		ItemCount:     len(lines),
		PharmacyCount: pickup.Summary.NumberOfPharmacies,
		Subtotal:      pickup.Summary.Subtotal,
		Pickup:        &pickup.Summary,
		Delivery:      &delivery.Summary,
	}
	return view, nil
}
