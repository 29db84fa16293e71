package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/db/dbtest"
	"github.com/pharmalink/pharmalink-backend/pkg/db/models"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/outbox"
	"github.com/pharmalink/pharmalink-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(client, NewRepository(client.DB()), outbox.NewService(outbox.NewRepository(client.DB()), nil))
	require.NoError(t, err)
	return svc, client
}

func seedOrder(t *testing.T, client *db.Client, customerID, pharmacyID uuid.UUID, createdAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		ID:             uuid.New(),
		SettlementID:   uuid.New(),
		CustomerID:     customerID,
		PharmacyID:     pharmacyID,
		MedicineID:     uuid.New(),
		Quantity:       1,
		UnitPrice:      decimal.RequireFromString("10"),
		TotalPrice:     decimal.RequireFromString("10"),
		DeliveryCharge: decimal.Zero,
		PlatformFee:    decimal.RequireFromString("0.03"),
		GrandTotal:     decimal.RequireFromString("10.03"),
		DeliveryType:   enums.DeliveryTypePickup,
		Status:         enums.OrderStatusPending,
		PaymentMethod:  enums.PaymentMethodCashOnDelivery,
		CreatedAt:      createdAt,
	}
	require.NoError(t, client.DB().Create(&order).Error)
	return order
}

func TestListScopesByPrincipal(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	customer := uuid.New()
	pharmacyA, pharmacyB := uuid.New(), uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	seedOrder(t, client, customer, pharmacyA, base)
	seedOrder(t, client, customer, pharmacyB, base.Add(time.Minute))
	seedOrder(t, client, uuid.New(), pharmacyA, base.Add(2*time.Minute))

	mine, err := svc.List(ctx, auth.Principal{UserID: customer, Role: enums.RoleCustomer}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, mine.Items, 2)

	forA, err := svc.List(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RolePharmacy, PharmacyID: &pharmacyA}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, forA.Items, 2)

	all, err := svc.List(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleAdmin}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
	require.NotEmpty(t, all.NextCursor)

	rest, err := svc.List(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleAdmin}, pagination.Params{Limit: 2, Cursor: all.NextCursor})
	require.NoError(t, err)
	assert.Len(t, rest.Items, 1)
}

func TestGetChecksOwnership(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	customer, pharmacy := uuid.New(), uuid.New()
	order := seedOrder(t, client, customer, pharmacy, time.Now().UTC())

	got, err := svc.Get(ctx, auth.Principal{UserID: customer, Role: enums.RoleCustomer}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.Get(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleCustomer}, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.Get(ctx, auth.Principal{UserID: customer, Role: enums.RoleCustomer}, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateStatusFollowsTransitions(t *testing.T) {
	svc, client := newTestService(t)
	ctx := context.Background()
	pharmacy := uuid.New()
	owner := auth.Principal{UserID: uuid.New(), Role: enums.RolePharmacy, PharmacyID: &pharmacy}
	order := seedOrder(t, client, uuid.New(), pharmacy, time.Now().UTC())

	_, err := svc.UpdateStatus(ctx, owner, order.ID, enums.OrderStatusDelivered)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "pending cannot jump to delivered")

	confirmed, err := svc.UpdateStatus(ctx, owner, order.ID, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)

	delivered, err := svc.UpdateStatus(ctx, owner, order.ID, enums.OrderStatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, delivered.DeliveryDate)

	var events int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Where("aggregate_id = ?", order.ID).Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestUpdateStatusRequiresOwningPharmacy(t *testing.T) {
	svc, client := newTestService(t)
	pharmacy, other := uuid.New(), uuid.New()
	order := seedOrder(t, client, uuid.New(), pharmacy, time.Now().UTC())

	_, err := svc.UpdateStatus(context.Background(), auth.Principal{UserID: uuid.New(), Role: enums.RolePharmacy, PharmacyID: &other}, order.ID, enums.OrderStatusConfirmed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.UpdateStatus(context.Background(), auth.Principal{UserID: uuid.New(), Role: enums.RolePharmacy, PharmacyID: &pharmacy}, order.ID, enums.OrderStatus("lost"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
