package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/storefront/apiserver/internal/auth"
	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/internal/store/memstore"
	"github.com/storefront/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordingCache struct {
	mu      sync.Mutex
	items   map[primitive.ObjectID]types.Product
	deletes int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: make(map[primitive.ObjectID]types.Product)}
}

func (c *recordingCache) Get(_ context.Context, id primitive.ObjectID) (types.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[id]
	return p, ok
}

func (c *recordingCache) Set(_ context.Context, p types.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ID] = p
}

func (c *recordingCache) Delete(_ context.Context, id primitive.ObjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	c.deletes++
}

var (
	testAdmin    = types.Principal{ID: primitive.NewObjectID(), Name: "Admin", Email: "admin@example.com", IsAdmin: true}
	testCustomer = types.Principal{ID: primitive.NewObjectID(), Name: "Ann", Email: "ann@example.com"}
)

func ptr[T any](v T) *T { return &v }

func TestCreateSampleProductRequiresAdmin(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, testCustomer)
	require.ErrorIs(t, err, auth.ErrForbidden)

	product, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Sample Name", product.Name)
	assert.Equal(t, "/images/sample.jpg", product.Image)
	assert.Equal(t, "Sample Brand", product.Brand)
	assert.Equal(t, "Sample Category", product.Category)
	assert.Equal(t, testAdmin.ID, product.User)
	assert.Zero(t, product.Price)
	assert.Zero(t, product.NumReviews)
	assert.Empty(t, product.Reviews)
}

func TestListPagination(t *testing.T) {
	repo := memstore.NewProducts()
	svc := NewProductService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 17; i++ {
		_, err := repo.Create(ctx, types.Product{Name: fmt.Sprintf("Phone %02d", i), Category: "phones", Price: float64(10 + i)})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, types.Product{Name: "Laptop", Category: "laptops", Price: 900})
	require.NoError(t, err)

	page, err := svc.List(ctx, types.ProductQuery{Category: "phones", Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 3, page.Pages)
	assert.Len(t, page.Products, 1)

	first, err := svc.List(ctx, types.ProductQuery{Category: "phones"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Page)
	assert.Len(t, first.Products, PageSize)
}

func TestListPageBeyondOffsetRange(t *testing.T) {
	repo := memstore.NewProducts()
	svc := NewProductService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 17; i++ {
		_, err := repo.Create(ctx, types.Product{Name: fmt.Sprintf("Phone %02d", i), Price: 10})
		require.NoError(t, err)
	}

	for _, page := range []int{math.MaxInt/PageSize + 2, math.MaxInt} {
		got, err := svc.List(ctx, types.ProductQuery{Page: page})
		require.NoError(t, err)
		assert.Equal(t, page, got.Page)
		assert.Equal(t, 3, got.Pages)
		assert.Empty(t, got.Products)
	}

	got, err := svc.List(ctx, types.ProductQuery{Page: 4})
	require.NoError(t, err)
	assert.Empty(t, got.Products)
}

func TestListFilters(t *testing.T) {
	repo := memstore.NewProducts()
	svc := NewProductService(repo, nil)
	ctx := context.Background()

	for _, p := range []types.Product{
		{Name: "iPhone 15", Category: "phones", Price: 999},
		{Name: "Pixel (8)", Category: "phones", Price: 699},
		{Name: "ThinkPad", Category: "laptops", Price: 1299},
	} {
		_, err := repo.Create(ctx, p)
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		query types.ProductQuery
		want  int
	}{
		{"keyword case-insensitive", types.ProductQuery{Keyword: "IPHONE"}, 1},
		{"keyword metacharacters quoted", types.ProductQuery{Keyword: "(8)"}, 1},
		{"category", types.ProductQuery{Category: "phones"}, 2},
		{"price range", types.ProductQuery{MinPrice: 700, MaxPrice: 1300}, 2},
		{"no match", types.ProductQuery{Keyword: "tablet"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.List(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, page.Products, tt.want)
		})
	}

	_, err := svc.List(ctx, types.ProductQuery{MinPrice: 10, MaxPrice: 5})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetReadsThroughCache(t *testing.T) {
	repo := memstore.NewProducts()
	cache := newRecordingCache()
	svc := NewProductService(repo, cache)
	ctx := context.Background()

	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	_, cached := cache.Get(ctx, created.ID)
	assert.True(t, cached)

	_, err = svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{Name: ptr("Renamed")})
	require.NoError(t, err)
	_, cached = cache.Get(ctx, created.ID)
	assert.False(t, cached)

	got, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = svc.Get(ctx, primitive.NewObjectID())
	require.ErrorIs(t, err, store.ErrNotFound)
}

// racingProducts runs afterGet once, after a read has loaded its copy.
type racingProducts struct {
	*memstore.Products
	afterGet func()
}

func (r *racingProducts) Get(ctx context.Context, id primitive.ObjectID) (types.Product, error) {
	product, err := r.Products.Get(ctx, id)
	if hook := r.afterGet; hook != nil {
		r.afterGet = nil
		hook()
	}
	return product, err
}

func TestGetDoesNotCacheReadRacingUpdate(t *testing.T) {
	repo := &racingProducts{Products: memstore.NewProducts()}
	cache := newRecordingCache()
	svc := NewProductService(repo, cache)
	ctx := context.Background()

	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	repo.afterGet = func() {
		_, err := svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{Name: ptr("Fresh")})
		require.NoError(t, err)
	}
	stale, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sample Name", stale.Name)

	_, cached := cache.Get(ctx, created.ID)
	assert.False(t, cached)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got.Name)
	cachedProduct, cached := cache.Get(ctx, created.ID)
	require.True(t, cached)
	assert.Equal(t, "Fresh", cachedProduct.Name)
}

func TestUpdateProduct(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{
		Price:        ptr(19.99),
		CountInStock: ptr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 19.99, updated.Price)
	assert.Equal(t, 3, updated.CountInStock)
	assert.Equal(t, "Sample Name", updated.Name)

	_, err = svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{Price: ptr(-1.0)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{CountInStock: ptr(-1)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Update(ctx, testCustomer, created.ID, types.ProductPatch{Name: ptr("x")})
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = svc.Update(ctx, testAdmin, primitive.NewObjectID(), types.ProductPatch{Name: ptr("x")})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteProduct(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, testCustomer, created.ID), auth.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, testAdmin, created.ID))
	require.ErrorIs(t, svc.Delete(ctx, testAdmin, created.ID), store.ErrNotFound)
}

type recordingImages struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *recordingImages) DeleteURLPath(_ context.Context, urlPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, urlPath)
	return r.err
}

func TestDeleteProductRemovesImage(t *testing.T) {
	images := &recordingImages{}
	svc := NewProductService(memstore.NewProducts(), nil, WithImageRemover(images))
	ctx := context.Background()

	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)
	_, err = svc.Update(ctx, testAdmin, created.ID, types.ProductPatch{Image: ptr("/uploads/image-42.png")})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, testCustomer, created.ID), auth.ErrForbidden)
	assert.Empty(t, images.removed)

	require.NoError(t, svc.Delete(ctx, testAdmin, created.ID))
	assert.Equal(t, []string{"/uploads/image-42.png"}, images.removed)

	require.ErrorIs(t, svc.Delete(ctx, testAdmin, created.ID), store.ErrNotFound)
	assert.Len(t, images.removed, 1)

	images.err = errors.New("bucket unavailable")
	other, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, testAdmin, other.ID))
	_, err = svc.Get(ctx, other.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddReviewRecomputesRating(t *testing.T) {
	cache := newRecordingCache()
	svc := NewProductService(memstore.NewProducts(), cache)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	updated, err := svc.AddReview(ctx, testCustomer, created.ID, ReviewInput{Rating: 4, Comment: "good"})
	require.NoError(t, err)
	assert.Equal(t, 4.0, updated.Rating)
	assert.Equal(t, 1, updated.NumReviews)
	require.Len(t, updated.Reviews, 1)
	assert.Equal(t, "Ann", updated.Reviews[0].Name)
	assert.Equal(t, testCustomer.ID, updated.Reviews[0].User)

	second := types.Principal{ID: primitive.NewObjectID(), Name: "Bob"}
	updated, err = svc.AddReview(ctx, second, created.ID, ReviewInput{Rating: 1, Comment: "bad"})
	require.NoError(t, err)
	assert.Equal(t, 2.5, updated.Rating)
	assert.Equal(t, 2, updated.NumReviews)
	assert.Equal(t, 2, cache.deletes)
}

func TestAddReviewRejectsDuplicate(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	_, err = svc.AddReview(ctx, testCustomer, created.ID, ReviewInput{Rating: 5, Comment: "great"})
	require.NoError(t, err)

	_, err = svc.AddReview(ctx, testCustomer, created.ID, ReviewInput{Rating: 1, Comment: "changed my mind"})
	require.ErrorIs(t, err, ErrConflict)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumReviews)
	assert.Equal(t, 5.0, got.Rating)
}

func TestConcurrentReviewsBySameUser(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddReview(ctx, testCustomer, created.ID, ReviewInput{Rating: 3, Comment: "ok"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumReviews)
}

func TestAddReviewValidation(t *testing.T) {
	svc := NewProductService(memstore.NewProducts(), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, testAdmin)
	require.NoError(t, err)

	tests := []struct {
		name string
		p    types.Principal
		in   ReviewInput
		err  error
	}{
		{"anonymous", types.Principal{}, ReviewInput{Rating: 3, Comment: "x"}, auth.ErrUnauthenticated},
		{"rating too low", testCustomer, ReviewInput{Rating: 0, Comment: "x"}, ErrInvalidInput},
		{"rating too high", testCustomer, ReviewInput{Rating: 6, Comment: "x"}, ErrInvalidInput},
		{"empty comment", testCustomer, ReviewInput{Rating: 3, Comment: "  "}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddReview(ctx, tt.p, created.ID, tt.in)
			require.ErrorIs(t, err, tt.err)
		})
	}

	_, err = svc.AddReview(ctx, testCustomer, primitive.NewObjectID(), ReviewInput{Rating: 3, Comment: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}
