package store

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OrderRepository handles persistence for orders.
type OrderRepository struct {
	coll *mongo.Collection
}

func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(OrdersCollection)}
}

func (r *OrderRepository) Create(ctx context.Context, order types.Order) (types.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	now := time.Now().UTC()
	order.ID = primitive.NewObjectID()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.IsPaid = false
	order.PaidAt = nil
	order.IsDelivered = false
	order.DeliveredAt = nil
	order.PaymentResult = nil

	if _, err := r.coll.InsertOne(ctx, order); err != nil {
		return types.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, id primitive.ObjectID) (types.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var order types.Order
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID primitive.ObjectID) ([]types.Order, error) {
	return r.find(ctx, bson.M{"user": userID})
}

func (r *OrderRepository) List(ctx context.Context) ([]types.Order, error) {
	return r.find(ctx, bson.M{})
}

// MarkPaid flags the order paid and stores result. paidAt keeps the time of
// the first confirmation; a repeated call only replaces paymentResult.
func (r *OrderRepository) MarkPaid(ctx context.Context, id primitive.ObjectID, result types.PaymentResult, at time.Time) (types.Order, error) {
	return r.transition(ctx, id, bson.M{
		"isPaid":        true,
		"paidAt":        bson.M{"$ifNull": bson.A{"$paidAt", at}},
		"paymentResult": bson.M{"$literal": result},
		"updatedAt":     at,
	})
}

// MarkDelivered flags the order delivered. deliveredAt keeps the time of
// the first confirmation.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id primitive.ObjectID, at time.Time) (types.Order, error) {
	return r.transition(ctx, id, bson.M{
		"isDelivered": true,
		"deliveredAt": bson.M{"$ifNull": bson.A{"$deliveredAt", at}},
		"updatedAt":   at,
	})
}

func (r *OrderRepository) transition(ctx context.Context, id primitive.ObjectID, set bson.M) (types.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}
	var updated types.Order
	err := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Order{}, ErrNotFound
		}
		return types.Order{}, err
	}
	return updated, nil
}

func (r *OrderRepository) find(ctx context.Context, filter bson.M) ([]types.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := make([]types.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}
