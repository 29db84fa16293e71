package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/api/middleware"
	cartsvc "github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/checkout"
	"github.com/pharmalink/pharmalink-backend/pkg/auth"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
)

type stubCartService struct {
	line        *cartsvc.LineDTO
	view        *cartsvc.View
	err         error
	lastAdd     cartsvc.AddItemInput
	lastQty     int
	lastLine    uuid.UUID
	lastCaller  uuid.UUID
	clearCalled bool
}

func (s *stubCartService) AddItem(_ context.Context, customerID uuid.UUID, input cartsvc.AddItemInput) (*cartsvc.LineDTO, error) {
	s.lastCaller = customerID
	s.lastAdd = input
	return s.line, s.err
}

func (s *stubCartService) UpdateQuantity(_ context.Context, customerID, lineID uuid.UUID, quantity int) (*cartsvc.LineDTO, error) {
	s.lastCaller = customerID
	s.lastLine = lineID
	s.lastQty = quantity
	return s.line, s.err
}

func (s *stubCartService) RemoveItem(_ context.Context, customerID, lineID uuid.UUID) error {
	s.lastCaller = customerID
	s.lastLine = lineID
	return s.err
}

func (s *stubCartService) Clear(_ context.Context, customerID uuid.UUID) error {
	s.lastCaller = customerID
	s.clearCalled = true
	return s.err
}

func (s *stubCartService) Get(_ context.Context, customerID uuid.UUID) (*cartsvc.View, error) {
	s.lastCaller = customerID
	return s.view, s.err
}

type stubCheckouter struct {
	result *checkout.Result
	err    error
	input  checkout.CheckoutInput
}

func (s *stubCheckouter) Checkout(_ context.Context, _ uuid.UUID, input checkout.CheckoutInput) (*checkout.Result, error) {
	s.input = input
	return s.result, s.err
}

func customerRequest(method, target, body string) (*http.Request, uuid.UUID) {
	userID := uuid.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := middleware.WithPrincipal(req.Context(), auth.Principal{UserID: userID, Role: enums.RoleCustomer})
	return req.WithContext(ctx), userID
}

func withLineParam(req *http.Request, lineID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("lineID", lineID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestAddItemCreatesLine(t *testing.T) {
	pharmacyID, medicineID := uuid.New(), uuid.New()
	svc := &stubCartService{line: &cartsvc.LineDTO{ID: uuid.New(), PharmacyID: pharmacyID, MedicineID: medicineID, Quantity: 2, Price: decimal.NewFromInt(10)}}

	body := `{"pharmacyId":"` + pharmacyID.String() + `","medicineId":"` + medicineID.String() + `","quantity":2}`
	req, userID := customerRequest(http.MethodPost, "/api/v1/cart", body)
	resp := httptest.NewRecorder()
	AddItem(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastCaller != userID {
		t.Fatalf("expected caller %s got %s", userID, svc.lastCaller)
	}
	if svc.lastAdd.Quantity != 2 || svc.lastAdd.PharmacyID != pharmacyID {
		t.Fatalf("unexpected input %+v", svc.lastAdd)
	}
	if env := decode(t, resp); !env.Success {
		t.Fatal("expected success envelope")
	}
}

func TestAddItemRejectsZeroQuantity(t *testing.T) {
	svc := &stubCartService{}
	body := `{"pharmacyId":"` + uuid.NewString() + `","medicineId":"` + uuid.NewString() + `","quantity":0}`
	req, _ := customerRequest(http.MethodPost, "/api/v1/cart", body)
	resp := httptest.NewRecorder()
	AddItem(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if env := decode(t, resp); env.Error != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error got %s", env.Error)
	}
}

func TestAddItemSurfacesOutOfStock(t *testing.T) {
	svc := &stubCartService{err: pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock")}
	body := `{"pharmacyId":"` + uuid.NewString() + `","medicineId":"` + uuid.NewString() + `","quantity":3}`
	req, _ := customerRequest(http.MethodPost, "/api/v1/cart", body)
	resp := httptest.NewRecorder()
	AddItem(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	env := decode(t, resp)
	if env.Error != string(pkgerrors.CodeOutOfStock) || env.Message != "insufficient stock" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestUpdateQuantityParsesLine(t *testing.T) {
	lineID := uuid.New()
	svc := &stubCartService{line: &cartsvc.LineDTO{ID: lineID, Quantity: 4}}
	req, _ := customerRequest(http.MethodPut, "/api/v1/cart/"+lineID.String(), `{"quantity":4}`)
	req = withLineParam(req, lineID.String())
	resp := httptest.NewRecorder()
	UpdateQuantity(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastLine != lineID || svc.lastQty != 4 {
		t.Fatalf("unexpected update line=%s qty=%d", svc.lastLine, svc.lastQty)
	}
}

func TestRemoveItemRejectsBadID(t *testing.T) {
	req, _ := customerRequest(http.MethodDelete, "/api/v1/cart/nope", "")
	req = withLineParam(req, "nope")
	resp := httptest.NewRecorder()
	RemoveItem(&stubCartService{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestClearAndFetch(t *testing.T) {
	svc := &stubCartService{view: &cartsvc.View{Lines: []cartsvc.LineDTO{}}}

	req, _ := customerRequest(http.MethodDelete, "/api/v1/cart", "")
	resp := httptest.NewRecorder()
	Clear(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || !svc.clearCalled {
		t.Fatalf("expected clear to succeed, code=%d", resp.Code)
	}

	req, userID := customerRequest(http.MethodGet, "/api/v1/cart", "")
	resp = httptest.NewRecorder()
	Fetch(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.lastCaller != userID {
		t.Fatal("expected fetch scoped to caller")
	}
}

func TestFetchRequiresPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	resp := httptest.NewRecorder()
	Fetch(&stubCartService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCheckoutSettles(t *testing.T) {
	engine := &stubCheckouter{result: &checkout.Result{SettlementID: uuid.New(), Summary: checkout.Summary{OrderCount: 2}}}
	req, _ := customerRequest(http.MethodPost, "/api/v1/cart/checkout", `{"deliveryType":"delivery","deliveryAddress":"12 Lake Rd"}`)
	resp := httptest.NewRecorder()
	Checkout(engine, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if engine.input.DeliveryType != "delivery" || engine.input.DeliveryAddress != "12 Lake Rd" {
		t.Fatalf("unexpected input %+v", engine.input)
	}
	var result checkout.Result
	if err := json.Unmarshal(decode(t, resp).Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Summary.OrderCount != 2 {
		t.Fatalf("expected 2 orders got %d", result.Summary.OrderCount)
	}
}

func TestCheckoutRejectsUnknownDeliveryType(t *testing.T) {
	engine := &stubCheckouter{}
	req, _ := customerRequest(http.MethodPost, "/api/v1/cart/checkout", `{"deliveryType":"drone"}`)
	resp := httptest.NewRecorder()
	Checkout(engine, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCheckoutBusyIsRetryable(t *testing.T) {
	engine := &stubCheckouter{err: pkgerrors.New(pkgerrors.CodeBusy, "settlement in progress")}
	req, _ := customerRequest(http.MethodPost, "/api/v1/cart/checkout", `{"deliveryType":"pickup"}`)
	resp := httptest.NewRecorder()
	Checkout(engine, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
