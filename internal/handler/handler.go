// Package handler exposes the storefront over HTTP using chi routes and jx
// encoded JSON bodies.
package handler

import (
	"context"
	"io"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/product"
	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

// OrderService is the order use case surface used by the handlers.
type OrderService interface {
	Quote(ctx context.Context, items []order.CartItem, couponCode string) (*order.Quote, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListAll(ctx context.Context, limit int) ([]order.Order, error)
	ConfirmPayment(ctx context.Context, orderID string, c order.Confirmation) (*order.Order, error)
	MarkDelivered(ctx context.Context, orderID string) (*order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// StripeFetcher loads a PaymentIntent by id.
type StripeFetcher interface {
	Confirmation(ctx context.Context, paymentIntentID string) (*order.StripeConfirmation, error)
}

// InvoiceOpener reads a stored invoice.
type InvoiceOpener interface {
	Open(path string) (io.ReadCloser, error)
}

// Config holds non-dependency settings.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	ImageBaseURL string
}

// Handler serves the storefront API.
type Handler struct {
	products     product.Repository
	orders       OrderService
	stripe       StripeFetcher // nil when Stripe is not configured
	invoices     InvoiceOpener
	imageBaseURL string
}

// New constructs a Handler. stripe may be nil.
func New(
	cfg Config,
	products product.Repository,
	orders OrderService,
	stripe StripeFetcher,
	invoices InvoiceOpener,
) *Handler {
	return &Handler{
		products:     products,
		orders:       orders,
		stripe:       stripe,
		invoices:     invoices,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes builds the /api router. Authenticated routes run sec first and then
// the optional extra middlewares, e.g. the idempotency cache, so they can
// see the principal.
func (h *Handler) Routes(sec *Security, authenticated ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)
		r.Post("/coupons/apply", h.ApplyCoupon)

		r.Group(func(r chi.Router) {
			r.Use(sec.RequireKey)
			for _, m := range authenticated {
				r.Use(m)
			}

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders/mine", h.ListMyOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/pay", h.PayOrder)
			r.Get("/orders/{orderID}/invoice", h.DownloadInvoice)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/admin/orders", h.ListAllOrders)
				r.Put("/orders/{orderID}/deliver", h.DeliverOrder)
			})
		})
	})
	return r
}
