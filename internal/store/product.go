package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProductRepository handles persistence for products and their reviews.
type ProductRepository struct {
	coll *mongo.Collection
}

func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{coll: db.Collection(ProductsCollection)}
}

// List returns one window of products matching query and the total match count.
func (r *ProductRepository) List(ctx context.Context, query types.ProductQuery, offset, limit int) ([]types.Product, int, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	if offset < 0 || limit < 0 {
		return nil, 0, ErrInvalidWindow
	}
	filter := productFilter(query)

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	products := make([]types.Product, 0, limit)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, 0, err
	}
	return products, int(total), nil
}

func (r *ProductRepository) Get(ctx context.Context, id primitive.ObjectID) (types.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var product types.Product
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&product); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return product, nil
}

func (r *ProductRepository) Create(ctx context.Context, product types.Product) (types.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	now := time.Now().UTC()
	product.ID = primitive.NewObjectID()
	product.CreatedAt = now
	product.UpdatedAt = now
	if product.Reviews == nil {
		product.Reviews = []types.Review{}
	}
	product.NumReviews = len(product.Reviews)
	product.Rating = types.AverageRating(product.Reviews)

	if _, err := r.coll.InsertOne(ctx, product); err != nil {
		return types.Product{}, err
	}
	return product, nil
}

// Update applies the non-nil fields of patch. Reviews and the derived
// rating fields are never touched here.
func (r *ProductRepository) Update(ctx context.Context, id primitive.ObjectID, patch types.ProductPatch) (types.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Price != nil {
		set["price"] = *patch.Price
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Image != nil {
		set["image"] = *patch.Image
	}
	if patch.Brand != nil {
		set["brand"] = *patch.Brand
	}
	if patch.Category != nil {
		set["category"] = *patch.Category
	}
	if patch.CountInStock != nil {
		set["countInStock"] = *patch.CountInStock
	}

	var updated types.Product
	err := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Product{}, ErrNotFound
		}
		return types.Product{}, err
	}
	return updated, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddReview appends review and recomputes rating and numReviews in a single
// conditional update. The filter only matches while the reviewer has no
// review on the product, so two concurrent submissions by the same user
// cannot both succeed. Returns ErrDuplicate when the user already reviewed
// the product and ErrNotFound when the product does not exist.
func (r *ProductRepository) AddReview(ctx context.Context, productID primitive.ObjectID, review types.Review) (types.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	now := time.Now().UTC()
	if review.ID.IsZero() {
		review.ID = primitive.NewObjectID()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}

	filter := bson.M{
		"_id":          productID,
		"reviews.user": bson.M{"$ne": review.User},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"reviews": bson.M{"$concatArrays": bson.A{
				bson.M{"$ifNull": bson.A{"$reviews", bson.A{}}},
				bson.A{bson.M{"$literal": review}},
			}},
			"updatedAt": now,
		}}},
		{{Key: "$set", Value: bson.M{
			"numReviews": bson.M{"$size": "$reviews"},
			"rating":     bson.M{"$avg": "$reviews.rating"},
		}}},
	}

	var updated types.Product
	err := r.coll.FindOneAndUpdate(
		ctx,
		filter,
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return types.Product{}, err
	}

	if _, getErr := r.Get(ctx, productID); getErr != nil {
		return types.Product{}, getErr
	}
	return types.Product{}, ErrDuplicate
}

func productFilter(query types.ProductQuery) bson.M {
	filter := bson.M{}
	if query.Keyword != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(query.Keyword), "$options": "i"}
	}
	if query.Category != "" {
		filter["category"] = query.Category
	}

	price := bson.M{"$gte": query.MinPrice}
	if query.MaxPrice > 0 {
		price["$lte"] = query.MaxPrice
	}
	filter["price"] = price
	return filter
}
