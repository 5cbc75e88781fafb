package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderHandler provides order lifecycle endpoints.
type OrderHandler struct {
	orders *services.OrderService
	resp   Responder
}

func NewOrderHandler(orders *services.OrderService, resp Responder) *OrderHandler {
	return &OrderHandler{orders: orders, resp: resp}
}

// OrderRouter registers order routes on the given router. Every route
// requires authentication.
func OrderRouter(r chi.Router, orders *services.OrderService, gate *Gate, resp Responder) {
	handler := NewOrderHandler(orders, resp)

	r.Use(gate.Authenticate)
	r.Post("/", handler.Create)
	r.With(gate.RequireAdmin).Get("/", handler.ListAll)
	r.Get("/myorders", handler.ListMine)
	r.Post("/create-payment-intent", handler.CreatePaymentIntent)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.Put("/pay", handler.MarkPaid)
		r.With(gate.RequireAdmin).Put("/deliver", handler.MarkDelivered)
	})
}

type OrderItemRequest struct {
	Name    string  `json:"name"`
	Qty     int     `json:"qty"`
	Image   string  `json:"image"`
	Price   float64 `json:"price"`
	Product string  `json:"product"`
}

type ShippingAddressRequest struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type OrderRequest struct {
	OrderItems      []OrderItemRequest     `json:"orderItems"`
	ShippingAddress ShippingAddressRequest `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	ItemsPrice      float64                `json:"itemsPrice" validate:"gte=0"`
	TaxPrice        float64                `json:"taxPrice" validate:"gte=0"`
	ShippingPrice   float64                `json:"shippingPrice" validate:"gte=0"`
	TotalPrice      float64                `json:"totalPrice" validate:"gte=0"`
}

// PaymentResultRequest is the processor confirmation posted by the client.
// The payer email may be sent flat or nested under payer.
type PaymentResultRequest struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
	Payer        *struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

type PaymentIntentRequest struct {
	Amount float64 `json:"amount"`
}

type PaymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}

	order, err := h.orders.Create(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "orderID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	order, err := h.orders.Get(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "orderID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	var req PaymentResultRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}

	email := req.EmailAddress
	if email == "" && req.Payer != nil {
		email = req.Payer.EmailAddress
	}
	order, err := h.orders.MarkPaid(r.Context(), principalFrom(r.Context()), id, types.PaymentResult{
		ID:           req.ID,
		Status:       req.Status,
		UpdateTime:   req.UpdateTime,
		EmailAddress: email,
	})
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(r, "orderID")
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	order, err := h.orders.MarkDelivered(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		h.resp.Error(w, r, notFoundAs(err, "Order not found"))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req PaymentIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.resp.Error(w, r, err)
		return
	}
	secret, err := h.orders.CreatePaymentIntent(r.Context(), principalFrom(r.Context()), req.Amount)
	if err != nil {
		h.resp.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIntentResponse{ClientSecret: secret})
}

func (req OrderRequest) toInput() (services.OrderInput, error) {
	items := make([]types.OrderItem, 0, len(req.OrderItems))
	for i, item := range req.OrderItems {
		productID, err := primitive.ObjectIDFromHex(strings.TrimSpace(item.Product))
		if err != nil {
			return services.OrderInput{}, badRequest(fmt.Sprintf("orderItems[%d].product is not a valid id", i))
		}
		items = append(items, types.OrderItem{
			Name:    item.Name,
			Qty:     item.Qty,
			Image:   item.Image,
			Price:   item.Price,
			Product: productID,
		})
	}
	return services.OrderInput{
		OrderItems: items,
		ShippingAddress: types.ShippingAddress{
			Address:    req.ShippingAddress.Address,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		PaymentMethod: req.PaymentMethod,
		ItemsPrice:    req.ItemsPrice,
		TaxPrice:      req.TaxPrice,
		ShippingPrice: req.ShippingPrice,
		TotalPrice:    req.TotalPrice,
	}, nil
}
