package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/storage"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PageSize is the number of products per catalog page.
const PageSize = 8

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	List(ctx context.Context, query types.ProductQuery, offset, limit int) ([]types.Product, int, error)
	Get(ctx context.Context, id primitive.ObjectID) (types.Product, error)
	Create(ctx context.Context, product types.Product) (types.Product, error)
	Update(ctx context.Context, id primitive.ObjectID, patch types.ProductPatch) (types.Product, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	AddReview(ctx context.Context, productID primitive.ObjectID, review types.Review) (types.Product, error)
}

// ProductCache holds product detail documents keyed by id.
type ProductCache interface {
	Get(ctx context.Context, id primitive.ObjectID) (types.Product, bool)
	Set(ctx context.Context, product types.Product)
	Delete(ctx context.Context, id primitive.ObjectID)
}

// ReviewInput is a customer's review submission.
type ReviewInput struct {
	Rating  int
	Comment string
}

// ProductService encapsulates catalog use-cases.
type ProductService struct {
	repo   ProductRepository
	cache  ProductCache
	images ImageRemover

	// generation counts invalidations. Get caches what it read only when no
	// invalidation happened during the read.
	generation atomic.Uint64
}

// NewProductService wires the catalog. cache may be nil.
func NewProductService(repo ProductRepository, cache ProductCache, opts ...ProductOption) *ProductService {
	if cache == nil {
		cache = noopCache{}
	}
	s := &ProductService{repo: repo, cache: cache}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImageRemover deletes uploaded images by their public path.
type ImageRemover interface {
	DeleteURLPath(ctx context.Context, urlPath string) error
}

// ProductOption configures a ProductService.
type ProductOption func(*ProductService)

// WithImageRemover deletes a product's uploaded image when the product is
// deleted.
func WithImageRemover(images ImageRemover) ProductOption {
	return func(s *ProductService) { s.images = images }
}

// List returns one page of products matching query.
func (s *ProductService) List(ctx context.Context, query types.ProductQuery) (types.ProductPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	query.Keyword = strings.TrimSpace(query.Keyword)
	query.Category = strings.TrimSpace(query.Category)
	if query.MinPrice < 0 || query.MaxPrice < 0 {
		return types.ProductPage{}, fmt.Errorf("%w: price bounds must not be negative", ErrInvalidInput)
	}
	if query.MaxPrice > 0 && query.MinPrice > query.MaxPrice {
		return types.ProductPage{}, fmt.Errorf("%w: minPrice exceeds maxPrice", ErrInvalidInput)
	}

	products, total, err := s.repo.List(ctx, query, pageOffset(page), PageSize)
	if err != nil {
		return types.ProductPage{}, err
	}
	return types.ProductPage{
		Products: products,
		Page:     page,
		Pages:    (total + PageSize - 1) / PageSize,
	}, nil
}

func (s *ProductService) invalidate(ctx context.Context, id primitive.ObjectID) {
	s.generation.Add(1)
	s.cache.Delete(ctx, id)
}

// pageOffset returns the number of products before page. Pages past the
// last representable offset map to math.MaxInt, which matches nothing.
func pageOffset(page int) int {
	if page-1 > math.MaxInt/PageSize {
		return math.MaxInt
	}
	return (page - 1) * PageSize
}

// Get returns a product by id, reading through the cache.
func (s *ProductService) Get(ctx context.Context, id primitive.ObjectID) (types.Product, error) {
	if product, ok := s.cache.Get(ctx, id); ok {
		return product, nil
	}
	gen := s.generation.Load()
	product, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Product{}, err
	}
	if s.generation.Load() == gen {
		s.cache.Set(ctx, product)
	}
	return product, nil
}

// Create inserts a placeholder product owned by the calling administrator.
// The product is expected to be edited afterwards.
func (s *ProductService) Create(ctx context.Context, p types.Principal) (types.Product, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return types.Product{}, err
	}
	return s.repo.Create(ctx, types.Product{
		User:         p.ID,
		Name:         "Sample Name",
		Price:        0,
		Image:        "/images/sample.jpg",
		Brand:        "Sample Brand",
		Category:     "Sample Category",
		CountInStock: 0,
		Description:  "Sample description",
	})
}

// Update replaces the provided fields of a product.
func (s *ProductService) Update(ctx context.Context, p types.Principal, id primitive.ObjectID, patch types.ProductPatch) (types.Product, error) {
	if err := auth.Admin.Authorize(p); err != nil {
		return types.Product{}, err
	}
	if patch.Price != nil && *patch.Price < 0 {
		return types.Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if patch.CountInStock != nil && *patch.CountInStock < 0 {
		return types.Product{}, fmt.Errorf("%w: countInStock must not be negative", ErrInvalidInput)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return types.Product{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return types.Product{}, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// Delete removes a product permanently.
func (s *ProductService) Delete(ctx context.Context, p types.Principal, id primitive.ObjectID) error {
	if err := auth.Admin.Authorize(p); err != nil {
		return err
	}
	var image string
	if s.images != nil {
		product, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		image = product.Image
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)

	if image != "" {
		if err := s.images.DeleteURLPath(ctx, image); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			logger.FromContext(ctx).Warn("failed to remove product image",
				"product_id", id.Hex(),
				"image", image,
				"error", err,
			)
		}
	}
	return nil
}

// AddReview records the caller's review and refreshes the product rating.
// A user may review a product once.
func (s *ProductService) AddReview(ctx context.Context, p types.Principal, id primitive.ObjectID, in ReviewInput) (types.Product, error) {
	if err := auth.Authenticated.Authorize(p); err != nil {
		return types.Product{}, err
	}
	if in.Rating < 1 || in.Rating > 5 {
		return types.Product{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	comment := strings.TrimSpace(in.Comment)
	if comment == "" {
		return types.Product{}, fmt.Errorf("%w: comment is required", ErrInvalidInput)
	}

	updated, err := s.repo.AddReview(ctx, id, types.Review{
		Name:      p.Name,
		Rating:    in.Rating,
		Comment:   comment,
		User:      p.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.Product{}, fmt.Errorf("%w: product already reviewed", ErrConflict)
		}
		return types.Product{}, err
	}
	s.invalidate(ctx, id)

	logger.FromContext(ctx).Info("review added",
		"product_id", id.Hex(),
		"user_id", p.ID.Hex(),
		"rating", updated.Rating,
		"num_reviews", updated.NumReviews,
	)
	return updated, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, primitive.ObjectID) (types.Product, bool) {
	return types.Product{}, false
}
func (noopCache) Set(context.Context, types.Product)          {}
func (noopCache) Delete(context.Context, primitive.ObjectID) {}
