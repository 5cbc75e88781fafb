package handlers

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

// ProductHandler provides catalog endpoints.
type ProductHandler struct {
	products *services.ProductService
	resp     Responder
}

func NewProductHandler(products *services.ProductService, resp Responder) *ProductHandler {
	return &ProductHandler{products: products, resp: resp}
}

// ProductRouter registers catalog routes on the given router.
func ProductRouter(r chi.Router, products *services.ProductService, gate *Gate, resp Responder) {
	handler := NewProductHandler(products, resp)

	r.Get("/", handler.List)
	r.With(gate.Authenticate, gate.RequireAdmin).Post("/", handler.Create)
	r.Route("/{productID}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.With(gate.Authenticate, gate.RequireAdmin).Put("/", handler.Update)
		r.With(gate.Authenticate, gate.RequireAdmin).Delete("/", handler.Delete)
		r.With(gate.Authenticate).Post("/reviews", handler.CreateReview)
	})
}

type ProductUpdateRequest struct {
	Name         *string  `json:"name"`
	Price        *float64 `json:"price" validate:"omitempty,gte=0"`
	Description  *string  `json:"description"`
	Image        *string  `json:"image"`
	Brand        *string  `json:"brand"`
	Category     *string  `json:"category"`
	CountInStock *int     `json:"countInStock" validate:"omitempty,gte=0"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"required"`
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	query, err := parseProductQuery(r.URL.Query())
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}

	page, err := h.products.List(r.Context(), query)
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "productID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	product, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.Create(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "productID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	var req ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	product, err := h.products.Update(r.Context(), principalFrom(r.Context()), id, types.ProductPatch{
		Name:         req.Name,
		Price:        req.Price,
		Description:  req.Description,
		Image:        req.Image,
		Brand:        req.Brand,
		Category:     req.Category,
		CountInStock: req.CountInStock,
	})
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "productID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	if err := h.products.Delete(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Product removed"})
}

func (h *ProductHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "productID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	var req ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	_, err = h.products.AddReview(r.Context(), principalFrom(r.Context()), id, services.ReviewInput{
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Product not found"))
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "Review added"})
}

func parseProductQuery(values url.Values) (types.ProductQuery, error) {
	query := types.ProductQuery{
		Keyword:  strings.TrimSpace(values.Get("keyword")),
		Category: strings.TrimSpace(values.Get("category")),
		Page:     1,
	}

	if raw := strings.TrimSpace(values.Get("pageNumber")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return types.ProductQuery{}, badRequest("pageNumber must be a positive integer")
		}
		query.Page = page
	}
	var err error
	if query.MinPrice, err = parsePrice(values.Get("minPrice"), "minPrice"); err != nil {
		return types.ProductQuery{}, err
	}
	if query.MaxPrice, err = parsePrice(values.Get("maxPrice"), "maxPrice"); err != nil {
		return types.ProductQuery{}, err
	}
	return query, nil
}

func parsePrice(raw, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, badRequest(name + " must be a non-negative number")
	}
	return value, nil
}
