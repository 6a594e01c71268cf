package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/storefront-sync/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware хоста движка.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/login", h.Login)
		r.Post("/session/signout", h.SignOut)
		r.Get("/catalog/{itemID}/extras", h.GetCatalogExtras)
		r.Get("/events", h.Events)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/session", h.GetSession)

			r.Get("/wallet", h.GetWallet)
			r.Post("/wallet/topup", h.TopUp)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddItem)
			r.Delete("/cart/items/{itemID}", h.RemoveItem)
			r.Post("/cart/promo", h.ApplyPromo)
			r.Delete("/cart/promo", h.ClearPromo)
			r.Post("/cart/recalculate", h.Recalculate)
			r.Post("/cart/pay", h.Pay)
			r.Post("/cart/buy-now", h.BuyNow)

			r.With(h.authMiddleware.RequireAdmin).Get("/promotions", h.ListPromotions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
