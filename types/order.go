package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderState is the lifecycle position of an order, derived from its
// paid and delivered flags.
type OrderState string

const (
	OrderCreated   OrderState = "created"
	OrderPaid      OrderState = "paid"
	OrderDelivered OrderState = "delivered"
)

// Order represents a checkout placed by a user.
type Order struct {
	// ID is the unique identifier of the order.
	ID primitive.ObjectID `json:"_id" bson:"_id,omitempty"`

	// User is the owning account.
	User primitive.ObjectID `json:"user" bson:"user"`

	// Owner is attached on reads for presentation. It is not stored.
	Owner *OrderOwner `json:"owner,omitempty" bson:"-"`

	// OrderItems are line-item snapshots taken at checkout. They are not
	// affected by later catalog changes.
	OrderItems []OrderItem `json:"orderItems" bson:"orderItems"`

	// ShippingAddress is where the order is delivered.
	ShippingAddress ShippingAddress `json:"shippingAddress" bson:"shippingAddress"`

	// PaymentMethod is the client-selected payment method label.
	PaymentMethod string `json:"paymentMethod" bson:"paymentMethod"`

	// PaymentResult holds the payment processor confirmation once paid.
	PaymentResult *PaymentResult `json:"paymentResult,omitempty" bson:"paymentResult,omitempty"`

	// ItemsPrice, TaxPrice, ShippingPrice and TotalPrice are the price
	// breakdown submitted at checkout.
	ItemsPrice    float64 `json:"itemsPrice" bson:"itemsPrice"`
	TaxPrice      float64 `json:"taxPrice" bson:"taxPrice"`
	ShippingPrice float64 `json:"shippingPrice" bson:"shippingPrice"`
	TotalPrice    float64 `json:"totalPrice" bson:"totalPrice"`

	// IsPaid and PaidAt record the first payment confirmation.
	IsPaid bool       `json:"isPaid" bson:"isPaid"`
	PaidAt *time.Time `json:"paidAt,omitempty" bson:"paidAt,omitempty"`

	// IsDelivered and DeliveredAt record the delivery confirmation.
	IsDelivered bool       `json:"isDelivered" bson:"isDelivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`

	// CreatedAt is the checkout timestamp.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent transition.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// State derives the lifecycle position of the order.
func (o Order) State() OrderState {
	switch {
	case o.IsDelivered:
		return OrderDelivered
	case o.IsPaid:
		return OrderPaid
	default:
		return OrderCreated
	}
}

// OrderItem is a snapshot of one purchased product.
type OrderItem struct {
	Name    string             `json:"name" bson:"name"`
	Qty     int                `json:"qty" bson:"qty"`
	Image   string             `json:"image" bson:"image"`
	Price   float64            `json:"price" bson:"price"`
	Product primitive.ObjectID `json:"product" bson:"product"`
}

// ShippingAddress is the delivery destination of an order.
type ShippingAddress struct {
	Address    string `json:"address" bson:"address"`
	City       string `json:"city" bson:"city"`
	PostalCode string `json:"postalCode" bson:"postalCode"`
	Country    string `json:"country" bson:"country"`
}

// PaymentResult is the payment processor confirmation attached on payment.
type PaymentResult struct {
	ID           string `json:"id" bson:"id"`
	Status       string `json:"status" bson:"status"`
	UpdateTime   string `json:"update_time" bson:"update_time"`
	EmailAddress string `json:"email_address" bson:"email_address"`
}

// OrderOwner is the presentation view of an order's owning account.
type OrderOwner struct {
	ID    primitive.ObjectID `json:"_id"`
	Name  string             `json:"name"`
	Email string             `json:"email,omitempty"`
}

// OrderEvent is published whenever an order changes state.
type OrderEvent struct {
	Type    string             `json:"type"`
	OrderID primitive.ObjectID `json:"orderId"`
	UserID  primitive.ObjectID `json:"userId"`
	At      time.Time          `json:"at"`
}

const (
	OrderEventCreated   = "order.created"
	OrderEventPaid      = "order.paid"
	OrderEventDelivered = "order.delivered"
)
