package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Product represents a catalog entry.
// Rating and NumReviews are derived from Reviews and are only ever
// written together with the review list.
type Product struct {
	// ID is the unique identifier of the product.
	ID primitive.ObjectID `json:"_id" bson:"_id,omitempty"`

	// User is the administrator who created the product.
	User primitive.ObjectID `json:"user" bson:"user"`

	// Name is the product title shown in the catalog.
	Name string `json:"name" bson:"name"`

	// Image is the path of the product picture, usually returned by the
	// upload endpoint.
	Image string `json:"image" bson:"image"`

	// Brand is the manufacturer or label.
	Brand string `json:"brand" bson:"brand"`

	// Category is used for exact-match catalog filtering.
	Category string `json:"category" bson:"category"`

	// Description is the long-form product text.
	Description string `json:"description" bson:"description"`

	// Reviews is the ordered list of customer reviews.
	Reviews []Review `json:"reviews" bson:"reviews"`

	// Rating is the arithmetic mean of all review ratings, 0 without reviews.
	Rating float64 `json:"rating" bson:"rating"`

	// NumReviews is the number of reviews.
	NumReviews int `json:"numReviews" bson:"numReviews"`

	// Price is the unit price in major currency units. Never negative.
	Price float64 `json:"price" bson:"price"`

	// CountInStock is the number of units available. Never negative.
	CountInStock int `json:"countInStock" bson:"countInStock"`

	// CreatedAt is the timestamp at which the product was created.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// UpdatedAt is the timestamp of the most recent update to the product.
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Review is a customer's immutable rating of a product.
type Review struct {
	// ID is the unique identifier of the review.
	ID primitive.ObjectID `json:"_id" bson:"_id,omitempty"`

	// Name is the reviewer's display name at submission time.
	Name string `json:"name" bson:"name"`

	// Rating is an integer between 1 and 5.
	Rating int `json:"rating" bson:"rating"`

	// Comment is the review text.
	Comment string `json:"comment" bson:"comment"`

	// User references the reviewer for attribution only.
	User primitive.ObjectID `json:"user" bson:"user"`

	// CreatedAt is the timestamp at which the review was submitted.
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// ProductPatch carries the fields an administrator may change on a product.
// Nil fields are left untouched.
type ProductPatch struct {
	Name         *string
	Price        *float64
	Description  *string
	Image        *string
	Brand        *string
	Category     *string
	CountInStock *int
}

// ProductQuery filters the catalog listing.
type ProductQuery struct {
	Keyword  string
	Category string
	MinPrice float64
	// MaxPrice of zero means unbounded.
	MaxPrice float64
	Page     int
}

// ProductPage is one page of catalog results.
type ProductPage struct {
	Products []Product `json:"products"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
}

// AverageRating returns the arithmetic mean of the review ratings.
func AverageRating(reviews []Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	total := 0
	for _, review := range reviews {
		total += review.Rating
	}
	return float64(total) / float64(len(reviews))
}
