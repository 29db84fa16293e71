package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/internal/fees"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
)

// AddItemInput is the body of POST /cart.
type AddItemInput struct {
	PharmacyID uuid.UUID `json:"pharmacyId" validate:"required"`
	MedicineID uuid.UUID `json:"medicineId" validate:"required"`
	Quantity   int       `json:"quantity" validate:"required,min=1"`
}

// LineDTO is one cart line as returned by the API.
type LineDTO struct {
	ID         uuid.UUID       `json:"id"`
	PharmacyID uuid.UUID       `json:"pharmacyId"`
	MedicineID uuid.UUID       `json:"medicineId"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Preview is a non-binding pricing of the current cart.
type Preview struct {
	ItemCount     int             `json:"itemCount"`
	PharmacyCount int             `json:"pharmacyCount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Pickup        *fees.Summary   `json:"pickup,omitempty"`
	Delivery      *fees.Summary   `json:"delivery,omitempty"`
}

// View is the body of GET /cart.
type View struct {
	Lines   []LineDTO `json:"lines"`
	Summary Preview   `json:"summary"`
}

// FromModel maps a cart line to its DTO.
func FromModel(line models.CartLine) LineDTO {
	return LineDTO{
		ID:         line.ID,
		PharmacyID: line.PharmacyID,
		MedicineID: line.MedicineID,
		Quantity:   line.Quantity,
		Price:      line.Price,
		Subtotal:   line.Subtotal(),
		CreatedAt:  line.CreatedAt,
	}
}

// FeeItems converts lines, in order, into calculator input using their
// snapshot prices.
func FeeItems(lines []models.CartLine) []fees.Item {
	items := make([]fees.Item, len(lines))
	for i, line := range lines {
		items[i] = fees.Item{
			PharmacyID: line.PharmacyID,
			UnitPrice:  line.Price,
			Quantity:   line.Quantity,
		}
	}
	return items
}
