package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/pharmalink/pharmalink-backend/api/middleware"
	"github.com/pharmalink/pharmalink-backend/api/responses"
	"github.com/pharmalink/pharmalink-backend/api/validators"
	internalpayments "github.com/pharmalink/pharmalink-backend/internal/payments"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/pharmalink/pharmalink-backend/pkg/errors"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
)

// CallbackResult selects which gateway redirect a route serves.
type CallbackResult string

const (
	CallbackSuccess CallbackResult = "success"
	CallbackFail    CallbackResult = "fail"
	CallbackCancel  CallbackResult = "cancel"
)

// InitCart handles POST /cart/payment-init.
func InitCart(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload internalpayments.CartInitInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.InitiateCartPayment(r.Context(), principal, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// InitReservation handles POST /reservations/{reservationID}/payment-init.
// The body is optional.
func InitReservation(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		principal, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservationID, err := validators.URLParamUUID(r, "reservationID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload internalpayments.ReservationInitInput
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.InitiateReservationPayment(r.Context(), principal, reservationID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Callback serves the browser-facing gateway redirects. Whatever the
// business outcome, the browser is sent to a frontend page; the gateway
// never sees an error status.
func Callback(svc internalpayments.Service, kind enums.PaymentSessionKind, result CallbackResult, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cb := callbackFromRequest(ctx, r, logg)
		if logg != nil && cb.TransactionID != "" {
			ctx = logg.WithTransactionID(ctx, cb.TransactionID)
		}

		var (
			outcome *internalpayments.Outcome
			err     error
		)
		switch result {
		case CallbackSuccess:
			outcome, err = svc.HandleSuccess(ctx, kind, cb)
		case CallbackCancel:
			outcome, err = svc.HandleFailure(ctx, kind, cb, enums.PaymentSessionCancelled)
		default:
			outcome, err = svc.HandleFailure(ctx, kind, cb, enums.PaymentSessionFailed)
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "callback", string(result)), "payment callback unresolved: "+err.Error())
		}

		http.Redirect(w, r.WithContext(ctx), svc.RedirectURL(kind, outcome, err), http.StatusFound)
	}
}

// IPN handles the gateway's server-to-server notification. It always
// answers 200 so the gateway stops retrying; the outcome is in the body.
func IPN(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		cb := callbackFromRequest(ctx, r, logg)
		if logg != nil && cb.TransactionID != "" {
			ctx = logg.WithTransactionID(ctx, cb.TransactionID)
		}

		outcome, err := svc.HandleIPN(ctx, cb)
		if err != nil {
			code := string(pkgerrors.CodeInternal)
			if typed := pkgerrors.As(err); typed != nil {
				code = string(typed.Code())
			}
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error_code", code), "ipn unresolved")
			}
			responses.WriteSuccess(w, map[string]string{"transactionId": cb.TransactionID, "status": "unresolved", "error": code})
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"transactionId": outcome.TransactionID,
			"status":        outcome.Status,
			"replayed":      outcome.Replayed,
		})
	}
}

// callbackFromRequest reads gateway fields from the query string or a
// form-encoded body. An unreadable body leaves the query values in place.
func callbackFromRequest(ctx context.Context, r *http.Request, logg *logger.Logger) internalpayments.Callback {
	if err := r.ParseForm(); err != nil {
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "payment callback body could not be parsed")
		}
		if r.Form == nil {
			r.Form = r.URL.Query()
		}
	}
	return internalpayments.Callback{
		TransactionID: validators.SanitizeString(r.Form.Get("tran_id"), 64),
		ValidationID:  strings.TrimSpace(r.Form.Get("val_id")),
		Status:        strings.TrimSpace(r.Form.Get("status")),
		Opaque:        r.Form.Get("value_a"),
	}
}
