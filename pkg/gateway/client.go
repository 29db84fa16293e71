package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/types"
)

// Validation statuses the gateway uses for a captured payment.
const (
	StatusValid     = "VALID"
	StatusValidated = "VALIDATED"
)

// ErrSessionRejected is returned when the gateway refuses to open a session.
var ErrSessionRejected = errors.New("gateway rejected session")

// SessionRequest describes one payment session.
type SessionRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	ProductName   string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Address       string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string
	Payload       types.SettlementPayload
}

// Session is the gateway's handle for a pending payment.
type Session struct {
	RedirectURL   string
	SessionKey    string
	TransactionID string
}

// Validation is the gateway's authoritative view of a payment.
type Validation struct {
	Status        string
	TransactionID string
	ValidationID  string
	Amount        decimal.Decimal
	Currency      string
	CardType      string
	Payload       *types.SettlementPayload
}

// Confirmed reports whether the gateway confirms the payment captured.
func (v *Validation) Confirmed() bool {
	if v == nil {
		return false
	}
	status := strings.ToUpper(strings.TrimSpace(v.Status))
	return status == StatusValid || status == StatusValidated
}

// Client talks to a hosted-checkout gateway over form-encoded HTTP.
type Client struct {
	httpClient    *http.Client
	storeID       string
	storePassword string
	sessionURL    string
	validationURL string
}

// NewClient builds a gateway client. Every call is bounded by cfg.Timeout.
func NewClient(cfg config.GatewayConfig, httpClient *http.Client) (*Client, error) {
	if cfg.StoreID == "" || cfg.StorePassword == "" {
		return nil, errors.New("gateway store credentials are required")
	}
	if cfg.SessionURL == "" || cfg.ValidationURL == "" {
		return nil, errors.New("gateway session and validation urls are required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient:    httpClient,
		storeID:       cfg.StoreID,
		storePassword: cfg.StorePassword,
		sessionURL:    cfg.SessionURL,
		validationURL: cfg.ValidationURL,
	}, nil
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// InitSession opens a hosted payment session carrying the opaque payload.
func (c *Client) InitSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if req.TransactionID == "" {
		return nil, errors.New("transaction id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	opaque, err := EncodePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.storePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TransactionID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.IPNURL)
	form.Set("product_name", req.ProductName)
	form.Set("product_category", "medicine")
	form.Set("product_profile", "general")
	form.Set("cus_name", req.CustomerName)
	form.Set("cus_email", req.CustomerEmail)
	form.Set("cus_phone", req.CustomerPhone)
	form.Set("cus_add1", req.Address)
	form.Set("shipping_method", "NO")
	form.Set("value_a", opaque)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp sessionResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("init session: %w", err)
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionRejected, resp.FailedReason)
	}
	return &Session{
		RedirectURL:   resp.GatewayPageURL,
		SessionKey:    resp.SessionKey,
		TransactionID: req.TransactionID,
	}, nil
}

type validationResponse struct {
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	ValID    string `json:"val_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	CardType string `json:"card_type"`
	ValueA   string `json:"value_a"`
}

// Validate asks the gateway for the authoritative status of validationID.
func (c *Client) Validate(ctx context.Context, validationID string) (*Validation, error) {
	if strings.TrimSpace(validationID) == "" {
		return nil, errors.New("validation id is required")
	}
	q := url.Values{}
	q.Set("val_id", validationID)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.storePassword)
	q.Set("format", "json")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validationURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}

	var resp validationResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("validate payment: %w", err)
	}

	out := &Validation{
		Status:        resp.Status,
		TransactionID: resp.TranID,
		ValidationID:  resp.ValID,
		Currency:      resp.Currency,
		CardType:      resp.CardType,
	}
	if resp.Amount != "" {
		amount, err := decimal.NewFromString(resp.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse validated amount %q: %w", resp.Amount, err)
		}
		out.Amount = amount
	}
	if resp.ValueA != "" {
		payload, err := DecodePayload(resp.ValueA)
		if err != nil {
			return nil, err
		}
		out.Payload = payload
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// EncodePayload turns a settlement payload into the opaque string handed to
// the gateway.
func EncodePayload(p types.SettlementPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(opaque string) (*types.SettlementPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(opaque))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var p types.SettlementPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}
