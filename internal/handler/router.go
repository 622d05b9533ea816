package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/frontierbooks/bookstore-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware книжного магазина.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", h.Register)
		r.Post("/login", h.Login)

		r.Get("/books", h.GetBooks)
		r.Get("/books/{bookID}", h.GetBook)
		r.Get("/reviews/{bookID}", h.GetReviews)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/cart", h.GetCart)
			r.Post("/cart", h.AddToCart)

			r.Post("/checkout", h.Checkout)
			r.Get("/user_orders", h.GetUserOrders)

			r.Post("/reviews", h.CreateReview)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.authMiddleware.RequireAdmin)

			r.Post("/books", h.CreateBook)
			r.Get("/orders", h.GetAllOrders)

			r.Put("/modify/{entity}/{id}", h.ModifyEntity)
			r.Delete("/remove/{entity}/{id}", h.RemoveEntity)
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
