package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	UsersCollection    = "users"
	ProductsCollection = "products"
	OrdersCollection   = "orders"

	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	listTimeout  = 10 * time.Second
)

// EnsureIndexes creates the indexes the repositories rely on. It mirrors
// internal/db/migrations and is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	if _, err := db.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("users_email_unique").SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := db.Collection(OrdersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("orders_user_created"),
	}); err != nil {
		return err
	}
	_, err := db.Collection(ProductsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "category", Value: 1}, {Key: "price", Value: 1}},
		Options: options.Index().SetName("products_category_price"),
	})
	return err
}
