package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pharmalink/pharmalink-backend/api/controllers"
	cartcontrollers "github.com/pharmalink/pharmalink-backend/api/controllers/cart"
	deliverycontrollers "github.com/pharmalink/pharmalink-backend/api/controllers/deliveries"
	ordercontrollers "github.com/pharmalink/pharmalink-backend/api/controllers/orders"
	paymentcontrollers "github.com/pharmalink/pharmalink-backend/api/controllers/payments"
	reservationcontrollers "github.com/pharmalink/pharmalink-backend/api/controllers/reservations"
	"github.com/pharmalink/pharmalink-backend/api/middleware"
	"github.com/pharmalink/pharmalink-backend/internal/cart"
	"github.com/pharmalink/pharmalink-backend/internal/deliveries"
	"github.com/pharmalink/pharmalink-backend/internal/orders"
	"github.com/pharmalink/pharmalink-backend/internal/payments"
	"github.com/pharmalink/pharmalink-backend/internal/reservations"
	"github.com/pharmalink/pharmalink-backend/pkg/config"
	"github.com/pharmalink/pharmalink-backend/pkg/db"
	"github.com/pharmalink/pharmalink-backend/pkg/enums"
	"github.com/pharmalink/pharmalink-backend/pkg/logger"
	"github.com/pharmalink/pharmalink-backend/pkg/redis"
)

// Params collects everything the API surface is built from.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       db.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer

	Cart         cart.Service
	Checkout     cartcontrollers.Checkouter
	Orders       orders.Service
	Reservations reservations.Service
	Deliveries   deliveries.Service
	Payments     payments.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]db.Pinger{
			"database": p.DB,
			"redis":    p.Redis,
		}))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Gateway callbacks authenticate by validating with the gateway, not by token.
		gatewayCallbacks(r, "/cart", p.Payments, enums.PaymentSessionKindCart, logg)
		gatewayCallbacks(r, "/reservations", p.Payments, enums.PaymentSessionKindReservation, logg)
		r.HandleFunc("/cart/payment-ipn", paymentcontrollers.IPN(p.Payments, logg))
		r.HandleFunc("/payments/ipn", paymentcontrollers.IPN(p.Payments, logg))

		// Routes stay flat so the idempotency middleware sees full patterns.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(p.Idempotency, logg))

			customer := middleware.RequireRole(logg, enums.RoleCustomer)
			pharmacy := middleware.RequireRole(logg, enums.RolePharmacy)

			r.With(customer).Get("/cart", cartcontrollers.Fetch(p.Cart, logg))
			r.With(customer).Post("/cart", cartcontrollers.AddItem(p.Cart, logg))
			r.With(customer).Delete("/cart", cartcontrollers.Clear(p.Cart, logg))
			r.With(customer).Post("/cart/checkout", cartcontrollers.Checkout(p.Checkout, logg))
			r.With(customer).Post("/cart/payment-init", paymentcontrollers.InitCart(p.Payments, logg))
			r.With(customer).Put("/cart/{lineID}", cartcontrollers.UpdateQuantity(p.Cart, logg))
			r.With(customer).Delete("/cart/{lineID}", cartcontrollers.RemoveItem(p.Cart, logg))

			r.Get("/orders", ordercontrollers.List(p.Orders, logg))
			r.Get("/orders/{orderID}", ordercontrollers.Detail(p.Orders, logg))
			r.With(pharmacy).Put("/orders/{orderID}/status", ordercontrollers.UpdateStatus(p.Orders, logg))

			r.Get("/reservations", reservationcontrollers.List(p.Reservations, logg))
			r.With(customer).Post("/reservations", reservationcontrollers.Create(p.Reservations, logg))
			r.Get("/reservations/{reservationID}", reservationcontrollers.Detail(p.Reservations, logg))
			r.With(customer).Delete("/reservations/{reservationID}", reservationcontrollers.Cancel(p.Reservations, logg))
			r.With(customer).Post("/reservations/{reservationID}/payment-init", paymentcontrollers.InitReservation(p.Payments, logg))
			r.With(pharmacy).Put("/reservations/{reservationID}/status", reservationcontrollers.UpdateStatus(p.Reservations, logg))

			r.With(pharmacy).Post("/deliveries", deliverycontrollers.Create(p.Deliveries, logg))
			r.Get("/deliveries/{deliveryID}", deliverycontrollers.Detail(p.Deliveries, logg))
			r.With(pharmacy).Put("/deliveries/{deliveryID}/status", deliverycontrollers.UpdateStatus(p.Deliveries, logg))
		})
	})

	return r
}

// gatewayCallbacks mounts the browser redirect endpoints for one session kind.
func gatewayCallbacks(r chi.Router, prefix string, svc payments.Service, kind enums.PaymentSessionKind, logg *logger.Logger) {
	for path, result := range map[string]paymentcontrollers.CallbackResult{
		"/payment-success": paymentcontrollers.CallbackSuccess,
		"/payment-fail":    paymentcontrollers.CallbackFail,
		"/payment-cancel":  paymentcontrollers.CallbackCancel,
	} {
		h := paymentcontrollers.Callback(svc, kind, result, logg)
		r.Get(prefix+path, h)
		r.Post(prefix+path, h)
	}
}
