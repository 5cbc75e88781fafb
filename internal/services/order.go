package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/metrics"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// priceTolerance absorbs float rounding when comparing submitted totals.
const priceTolerance = 0.005

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	Create(ctx context.Context, order types.Order) (types.Order, error)
	Get(ctx context.Context, id primitive.ObjectID) (types.Order, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID) ([]types.Order, error)
	List(ctx context.Context) ([]types.Order, error)
	MarkPaid(ctx context.Context, id primitive.ObjectID, result types.PaymentResult, at time.Time) (types.Order, error)
	MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (types.Order, error)
}

// AccountLookup resolves order owners for presentation.
type AccountLookup interface {
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]types.User, error)
}

// EventPublisher emits order lifecycle events.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event types.OrderEvent) error
}

// PaymentProcessor creates payment intents with an external processor.
type PaymentProcessor interface {
	// CreateIntent requests an intent for amount minor currency units and
	// returns the client secret.
	CreateIntent(ctx context.Context, amount int64, metadata map[string]string) (string, error)
}

// OrderInput is a checkout request.
type OrderInput struct {
	OrderItems      []types.OrderItem
	ShippingAddress types.ShippingAddress
	PaymentMethod   string
	ItemsPrice      float64
	TaxPrice        float64
	ShippingPrice   float64
	TotalPrice      float64
}

// OrderService owns the order lifecycle: created, paid, delivered.
type OrderService struct {
	repo     OrderRepository
	accounts AccountLookup
	events   EventPublisher
	payments PaymentProcessor
	now      func() time.Time
}

// OrderOption configures an OrderService.
type OrderOption func(*OrderService)

// WithOrderClock overrides the transition timestamp source.
func WithOrderClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService wires the order lifecycle. events may be nil.
func NewOrderService(repo OrderRepository, accounts AccountLookup, events EventPublisher, payments PaymentProcessor, opts ...OrderOption) *OrderService {
	s := &OrderService{
		repo:     repo,
		accounts: accounts,
		events:   events,
		payments: payments,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create places an unpaid, undelivered order for the caller.
func (s *OrderService) Create(ctx context.Context, p types.Principal, in OrderInput) (types.Order, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.Order{}, err
	}
	if len(in.OrderItems) == 0 {
		return types.Order{}, ErrInvalidOrder
	}

	items := make([]types.OrderItem, 0, len(in.OrderItems))
	var itemsTotal float64
	for i, item := range in.OrderItems {
		if item.Product.IsZero() {
			return types.Order{}, fmt.Errorf("%w: item %d has no product", ErrInvalidInput, i)
		}
		if item.Qty < 1 {
			return types.Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidInput, i)
		}
		if item.Price < 0 {
			return types.Order{}, fmt.Errorf("%w: item %d price must not be negative", ErrInvalidInput, i)
		}
		items = append(items, types.OrderItem{
			Product: item.Product,
			Name:    strings.TrimSpace(item.Name),
			Image:   item.Image,
			Qty:     item.Qty,
			Price:   item.Price,
		})
		itemsTotal += item.Price * float64(item.Qty)
	}

	log := logger.FromContext(ctx)
	if math.Abs(itemsTotal-in.ItemsPrice) > priceTolerance {
		log.Warn("order items price differs from line items",
			"user_id", p.ID.Hex(),
			"submitted", in.ItemsPrice,
			"computed", itemsTotal,
		)
	}
	if sum := in.ItemsPrice + in.TaxPrice + in.ShippingPrice; math.Abs(sum-in.TotalPrice) > priceTolerance {
		log.Warn("order total differs from its components",
			"user_id", p.ID.Hex(),
			"submitted", in.TotalPrice,
			"computed", sum,
		)
	}

	order, err := s.repo.Create(ctx, types.Order{
		User:            p.ID,
		OrderItems:      items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		ItemsPrice:      in.ItemsPrice,
		TaxPrice:        in.TaxPrice,
		ShippingPrice:   in.ShippingPrice,
		TotalPrice:      in.TotalPrice,
	})
	if err != nil {
		return types.Order{}, err
	}

	s.publish(ctx, types.OrderEventCreated, order)
	return order, nil
}

// Get returns an order with its owner attached. Only the owner or an
// administrator may read it.
func (s *OrderService) Get(ctx context.Context, p types.Principal, id primitive.ObjectID) (types.Order, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.Order{}, err
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Order{}, err
	}
	if err := auth.OwnerOrAdmin(order.User).Authorize(p); err != nil {
		return types.Order{}, err
	}

	orders := []types.Order{order}
	if err := s.attachOwners(ctx, orders, true); err != nil {
		return types.Order{}, err
	}
	return orders[0], nil
}

// MarkPaid records the processor confirmation on an order. The first
// confirmation time is kept; a repeated call replaces the result only.
func (s *OrderService) MarkPaid(ctx context.Context, p types.Principal, id primitive.ObjectID, result types.PaymentResult) (types.Order, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.Order{}, err
	}
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Order{}, err
	}
	if err := auth.OwnerOrAdmin(order.User).Authorize(p); err != nil {
		return types.Order{}, err
	}

	updated, err := s.repo.MarkPaid(ctx, id, result, s.now())
	if err != nil {
		return types.Order{}, err
	}

	s.publish(ctx, types.OrderEventPaid, updated)
	return updated, nil
}

// MarkDelivered flags an order delivered. Administrators only; the order
// need not be paid.
func (s *OrderService) MarkDelivered(ctx context.Context, p types.Principal, id primitive.ObjectID) (types.Order, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return types.Order{}, err
	}

	updated, err := s.repo.MarkDelivered(ctx, id, s.now())
	if err != nil {
		return types.Order{}, err
	}

	s.publish(ctx, types.OrderEventDelivered, updated)
	return updated, nil
}

// ListMine returns the caller's orders, newest first.
func (s *OrderService) ListMine(ctx context.Context, p types.Principal) ([]types.Order, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, p.ID)
}

// ListAll returns every order with the owner's id and name attached.
func (s *OrderService) ListAll(ctx context.Context, p types.Principal) ([]types.Order, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return nil, err
	}
	orders, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.attachOwners(ctx, orders, false); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreatePaymentIntent asks the processor for an intent of amount major
// units and returns its client secret. Amount validation is left to the
// processor; its rejection surfaces as ErrPaymentProcessor.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, p types.Principal, amount float64) (string, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return "", err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		metrics.PaymentIntents.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: amount must be a finite number", ErrPaymentProcessor)
	}
	if s.payments == nil {
		metrics.PaymentIntents.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: payments are not configured", ErrPaymentProcessor)
	}

	secret, err := s.payments.CreateIntent(ctx, ToMinorUnits(amount), map[string]string{
		"integration_check": "accept_a_payment",
	})
	if err != nil {
		metrics.PaymentIntents.WithLabelValues("failed").Inc()
		logger.FromContext(ctx).Error("payment intent failed", "user_id", p.ID.Hex(), "error", err)
		if errors.Is(err, ErrPaymentProcessor) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}
	metrics.PaymentIntents.WithLabelValues("created").Inc()
	return secret, nil
}

// ToMinorUnits converts a major-unit amount to minor units, rounding to the
// nearest unit.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (s *OrderService) attachOwners(ctx context.Context, orders []types.Order, withEmail bool) error {
	if s.accounts == nil || len(orders) == 0 {
		return nil
	}
	ids := make([]primitive.ObjectID, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.User)
	}
	users, err := s.accounts.GetMany(ctx, uniqueIDs(ids))
	if err != nil {
		return err
	}
	byID := make(map[primitive.ObjectID]types.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	for i := range orders {
		user, ok := byID[orders[i].User]
		if !ok {
			continue
		}
		owner := &types.OrderOwner{ID: user.ID, Name: user.Name}
		if withEmail {
			owner.Email = user.Email
		}
		orders[i].Owner = owner
	}
	return nil
}

func (s *OrderService) publish(ctx context.Context, eventType string, order types.Order) {
	metrics.OrderTransitions.WithLabelValues(eventType).Inc()
	if s.events == nil {
		return
	}
	event := types.OrderEvent{
		Type:    eventType,
		OrderID: order.ID,
		UserID:  order.User,
		At:      order.UpdatedAt,
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		logger.FromContext(ctx).Error("failed to publish order event",
			"type", eventType,
			"order_id", order.ID.Hex(),
			"error", err,
		)
	}
}
