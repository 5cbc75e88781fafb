// Package memstore provides in-memory repositories with the same
// contracts as the MongoDB store. It backs unit and handler tests.
package memstore

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storefront/apiserver/internal/store"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Users is an in-memory user repository with a unique email rule.
type Users struct {
	mu    sync.Mutex
	byID  map[primitive.ObjectID]types.User
	order []primitive.ObjectID
}

func NewUsers() *Users {
	return &Users{byID: make(map[primitive.ObjectID]types.User)}
}

func (r *Users) GetByID(_ context.Context, id primitive.ObjectID) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *Users) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *Users) GetMany(_ context.Context, ids []primitive.ObjectID) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]types.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.byID[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *Users) List(_ context.Context) ([]types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]types.User, 0, len(r.order))
	for _, id := range r.order {
		if user, ok := r.byID[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *Users) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emailTaken(user.Email, primitive.NilObjectID) {
		return types.User{}, store.ErrDuplicate
	}
	now := time.Now().UTC()
	user.ID = primitive.NewObjectID()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = user
	r.order = append(r.order, user.ID)
	return user, nil
}

func (r *Users) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if r.emailTaken(user.Email, user.ID) {
		return types.User{}, store.ErrDuplicate
	}
	current.Name = user.Name
	current.Email = user.Email
	current.PasswordHash = user.PasswordHash
	current.IsAdmin = user.IsAdmin
	current.UpdatedAt = time.Now().UTC()
	r.byID[user.ID] = current
	return current, nil
}

func (r *Users) SetAdmin(_ context.Context, email string, isAdmin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.byID {
		if user.Email == email {
			user.IsAdmin = isAdmin
			user.UpdatedAt = time.Now().UTC()
			r.byID[id] = user
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *Users) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *Users) emailTaken(email string, except primitive.ObjectID) bool {
	for id, user := range r.byID {
		if id != except && user.Email == email {
			return true
		}
	}
	return false
}

// Products is an in-memory product repository.
type Products struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]types.Product
}

func NewProducts() *Products {
	return &Products{byID: make(map[primitive.ObjectID]types.Product)}
}

func (r *Products) List(_ context.Context, query types.ProductQuery, offset, limit int) ([]types.Product, int, error) {
	if offset < 0 || limit < 0 {
		return nil, 0, store.ErrInvalidWindow
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var keyword *regexp.Regexp
	if query.Keyword != "" {
		keyword = regexp.MustCompile("(?i)" + regexp.QuoteMeta(query.Keyword))
	}

	matched := make([]types.Product, 0)
	for _, product := range r.byID {
		if keyword != nil && !keyword.MatchString(product.Name) {
			continue
		}
		if query.Category != "" && product.Category != query.Category {
			continue
		}
		if product.Price < query.MinPrice {
			continue
		}
		if query.MaxPrice > 0 && product.Price > query.MaxPrice {
			continue
		}
		matched = append(matched, cloneProduct(product))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID.Hex() < matched[j].ID.Hex()
	})

	total := len(matched)
	if offset >= total {
		return []types.Product{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *Products) Get(_ context.Context, id primitive.ObjectID) (types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.byID[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	return cloneProduct(product), nil
}

func (r *Products) Create(_ context.Context, product types.Product) (types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	product.ID = primitive.NewObjectID()
	product.CreatedAt = now
	product.UpdatedAt = now
	if product.Reviews == nil {
		product.Reviews = []types.Review{}
	}
	product.NumReviews = len(product.Reviews)
	product.Rating = types.AverageRating(product.Reviews)
	r.byID[product.ID] = product
	return cloneProduct(product), nil
}

func (r *Products) Update(_ context.Context, id primitive.ObjectID, patch types.ProductPatch) (types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.byID[id]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	if patch.Name != nil {
		product.Name = *patch.Name
	}
	if patch.Price != nil {
		product.Price = *patch.Price
	}
	if patch.Description != nil {
		product.Description = *patch.Description
	}
	if patch.Image != nil {
		product.Image = *patch.Image
	}
	if patch.Brand != nil {
		product.Brand = *patch.Brand
	}
	if patch.Category != nil {
		product.Category = *patch.Category
	}
	if patch.CountInStock != nil {
		product.CountInStock = *patch.CountInStock
	}
	product.UpdatedAt = time.Now().UTC()
	r.byID[id] = product
	return cloneProduct(product), nil
}

func (r *Products) Delete(_ context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// AddReview appends review unless the reviewer already reviewed the product.
func (r *Products) AddReview(_ context.Context, productID primitive.ObjectID, review types.Review) (types.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.byID[productID]
	if !ok {
		return types.Product{}, store.ErrNotFound
	}
	for _, existing := range product.Reviews {
		if existing.User == review.User {
			return types.Product{}, store.ErrDuplicate
		}
	}
	if review.ID.IsZero() {
		review.ID = primitive.NewObjectID()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	product.Reviews = append(product.Reviews, review)
	product.NumReviews = len(product.Reviews)
	product.Rating = types.AverageRating(product.Reviews)
	product.UpdatedAt = time.Now().UTC()
	r.byID[productID] = product
	return cloneProduct(product), nil
}

func cloneProduct(product types.Product) types.Product {
	product.Reviews = append([]types.Review{}, product.Reviews...)
	return product
}

// Orders is an in-memory order repository.
type Orders struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]types.Order
}

func NewOrders() *Orders {
	return &Orders{byID: make(map[primitive.ObjectID]types.Order)}
}

func (r *Orders) Create(_ context.Context, order types.Order) (types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	order.ID = primitive.NewObjectID()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.IsPaid = false
	order.PaidAt = nil
	order.IsDelivered = false
	order.DeliveredAt = nil
	order.PaymentResult = nil
	order.Owner = nil
	r.byID[order.ID] = order
	return order, nil
}

func (r *Orders) Get(_ context.Context, id primitive.ObjectID) (types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (r *Orders) ListByUser(_ context.Context, userID primitive.ObjectID) ([]types.Order, error) {
	return r.filter(func(o types.Order) bool { return o.User == userID }), nil
}

func (r *Orders) List(_ context.Context) ([]types.Order, error) {
	return r.filter(func(types.Order) bool { return true }), nil
}

// Len reports the number of stored orders.
func (r *Orders) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Orders) MarkPaid(_ context.Context, id primitive.ObjectID, result types.PaymentResult, at time.Time) (types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	order.IsPaid = true
	if order.PaidAt == nil {
		paidAt := at
		order.PaidAt = &paidAt
	}
	order.PaymentResult = &result
	order.UpdatedAt = at
	r.byID[id] = order
	return order, nil
}

func (r *Orders) MarkDelivered(_ context.Context, id primitive.ObjectID, at time.Time) (types.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byID[id]
	if !ok {
		return types.Order{}, store.ErrNotFound
	}
	order.IsDelivered = true
	if order.DeliveredAt == nil {
		deliveredAt := at
		order.DeliveredAt = &deliveredAt
	}
	order.UpdatedAt = at
	r.byID[id] = order
	return order, nil
}

func (r *Orders) filter(keep func(types.Order) bool) []types.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := make([]types.Order, 0)
	for _, order := range r.byID {
		if keep(order) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return strings.Compare(orders[i].ID.Hex(), orders[j].ID.Hex()) > 0
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders
}
