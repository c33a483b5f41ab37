package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueSlug(t *testing.T) {
	taken := map[string]bool{"blue-shirt": true, "blue-shirt-2": true}
	exists := func(_ context.Context, s string) (bool, error) { return taken[s], nil }

	got, err := uniqueSlug(context.Background(), "Blue Shirt!", exists)
	require.NoError(t, err)
	assert.Equal(t, "blue-shirt-3", got)

	got, err = uniqueSlug(context.Background(), "Fresh Title", exists)
	require.NoError(t, err)
	assert.Equal(t, "fresh-title", got)

	got, err = uniqueSlug(context.Background(), "!!!", exists)
	require.NoError(t, err)
	assert.Equal(t, "item", got)

	_, err = uniqueSlug(context.Background(), "x", func(context.Context, string) (bool, error) {
		return false, errors.New("db down")
	})
	assert.Error(t, err)
}

func TestUniqueSlugChecksLastCounter(t *testing.T) {
	taken := map[string]bool{"steam-key": true}
	for n := 2; n < maxSlugCounter; n++ {
		taken[fmt.Sprintf("steam-key-%d", n)] = true
	}
	exists := func(_ context.Context, s string) (bool, error) { return taken[s], nil }

	got, err := uniqueSlug(context.Background(), "Steam Key", exists)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("steam-key-%d", maxSlugCounter), got)

	taken[got] = true
	got, err = uniqueSlug(context.Background(), "Steam Key", exists)
	require.NoError(t, err)
	assert.Regexp(t, `^steam-key-[0-9a-f]{8}$`, got)
	assert.False(t, taken[got])
}

func TestCreateProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewCatalogService(f.store, nil)

	price := decimal.RequireFromString("25.00")
	p, err := svc.CreateProduct(ctx, f.seller, CreateProductRequest{
		CategoryID: f.category.ID,
		Title:      "Steam Key",
		Price:      price,
		Images: []ImageInput{
			{URL: "https://cdn.example.com/a.png", IsPrimary: true},
			{URL: "https://cdn.example.com/b.png", OrderIndex: 1},
		},
	})
	require.NoError(t, err)
	// fixture already owns "steam-key"
	assert.Equal(t, "steam-key-2", p.Slug)
	assert.Equal(t, models.ProductPending, p.Status)
	assert.Equal(t, 1, p.StockQuantity)
	assert.Len(t, p.Images, 2)

	_, err = svc.CreateProduct(ctx, f.buyer, CreateProductRequest{CategoryID: f.category.ID, Title: "x", Price: price})
	assert.ErrorIs(t, err, ErrForbidden)

	discount := decimal.RequireFromString("30.00")
	_, err = svc.CreateProduct(ctx, f.seller, CreateProductRequest{CategoryID: f.category.ID, Title: "x", Price: price, DiscountPrice: &discount})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.CreateProduct(ctx, f.seller, CreateProductRequest{
		CategoryID: f.category.ID,
		Title:      "two primaries",
		Price:      price,
		Images:     []ImageInput{{URL: "https://a", IsPrimary: true}, {URL: "https://b", IsPrimary: true}},
	})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestProductVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewCatalogService(f.store, nil)

	p, err := svc.CreateProduct(ctx, f.seller, CreateProductRequest{CategoryID: f.category.ID, Title: "Draft", Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	_, err = svc.GetProduct(ctx, nil, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetProduct(ctx, &f.buyer, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetProduct(ctx, &f.seller, p.ID)
	assert.NoError(t, err)

	active := models.ProductActive
	_, err = svc.UpdateProduct(ctx, f.seller, p.ID, UpdateProductRequest{Status: &active})
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = svc.UpdateProduct(ctx, f.admin, p.ID, UpdateProductRequest{Status: &active})
	require.NoError(t, err)
	_, err = svc.GetProduct(ctx, nil, p.ID)
	assert.NoError(t, err)

	list, total, err := svc.ListActive(ctx, models.ProductFilter{CategoryID: &f.category.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 2)

	require.NoError(t, svc.DeleteProduct(ctx, f.seller, p.ID))
	_, err = svc.GetProduct(ctx, &f.seller, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewCatalogService(f.store, nil)

	zero := 0
	updated, err := svc.UpdateProduct(ctx, f.seller, f.product.ID, UpdateProductRequest{StockQuantity: &zero})
	require.NoError(t, err)
	assert.Equal(t, models.ProductSold, updated.Status)

	five := 5
	updated, err = svc.UpdateProduct(ctx, f.seller, f.product.ID, UpdateProductRequest{StockQuantity: &five})
	require.NoError(t, err)
	assert.Equal(t, models.ProductActive, updated.Status)
	assert.Equal(t, "steam-key", updated.Slug)

	_, err = svc.UpdateProduct(ctx, f.buyer, f.product.ID, UpdateProductRequest{StockQuantity: &five})
	assert.ErrorIs(t, err, ErrForbidden)

	rejected := models.ProductRejected
	_, err = svc.UpdateProduct(ctx, f.seller, f.product.ID, UpdateProductRequest{Status: &rejected})
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = svc.UpdateProduct(ctx, f.admin, f.product.ID, UpdateProductRequest{Status: &rejected})
	assert.NoError(t, err)
}

func TestSellerStatusMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewCatalogService(f.store, nil)

	active := models.ProductActive
	_, err := svc.CreateProduct(ctx, f.seller, CreateProductRequest{CategoryID: f.category.ID, Title: "Live", Price: decimal.NewFromInt(5), Status: &active})
	assert.Equal(t, KindValidation, KindOf(err))

	draft := models.ProductDraft
	p, err := svc.CreateProduct(ctx, f.seller, CreateProductRequest{CategoryID: f.category.ID, Title: "Draft", Price: decimal.NewFromInt(5), Status: &draft})
	require.NoError(t, err)
	assert.Equal(t, models.ProductDraft, p.Status)

	move := func(actor models.Actor, to models.ProductStatus) error {
		_, err := svc.UpdateProduct(ctx, actor, p.ID, UpdateProductRequest{Status: &to})
		return err
	}

	assert.Equal(t, KindValidation, KindOf(move(f.seller, models.ProductActive)))
	assert.Equal(t, KindValidation, KindOf(move(f.seller, models.ProductInactive)))
	require.NoError(t, move(f.seller, models.ProductPending))
	assert.Equal(t, KindValidation, KindOf(move(f.seller, models.ProductActive)))

	require.NoError(t, move(f.admin, models.ProductRejected))
	assert.Equal(t, KindValidation, KindOf(move(f.seller, models.ProductActive)))
	require.NoError(t, move(f.seller, models.ProductPending))

	require.NoError(t, move(f.admin, models.ProductActive))
	require.NoError(t, move(f.seller, models.ProductInactive))
	require.NoError(t, move(f.seller, models.ProductActive))
	assert.Equal(t, models.ProductActive, f.store.products[p.ID].Status)
}

// checkoutBetweenReadAndWrite runs checkout once, right after the product is
// read, so it commits before the caller writes its update back.
type checkoutBetweenReadAndWrite struct {
	*memStore
	checkout func()
}

func (s *checkoutBetweenReadAndWrite) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, err := s.memStore.GetProductByID(ctx, id)
	if run := s.checkout; run != nil {
		s.checkout = nil
		run()
	}
	return p, err
}

func TestUpdateProductKeepsConcurrentCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	orders := f.orders()
	buy := func(productID int64) error {
		_, err := orders.CreateOrder(ctx, f.buyer, CreateOrderRequest{
			Items:         []OrderItemRequest{{ProductID: productID, Quantity: 1}},
			PaymentMethod: "card",
		})
		return err
	}
	racing := &checkoutBetweenReadAndWrite{memStore: f.store}
	svc := NewCatalogService(racing, nil)

	// a description edit must not hand the sold unit back
	racing.checkout = func() { require.NoError(t, buy(f.product.ID)) }
	desc := "region free"
	updated, err := svc.UpdateProduct(ctx, f.seller, f.product.ID, UpdateProductRequest{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.StockQuantity)
	assert.Equal(t, models.ProductSold, updated.Status)

	stored := f.store.products[f.product.ID]
	assert.Equal(t, desc, stored.Description)
	assert.Equal(t, 0, stored.StockQuantity)
	assert.Equal(t, models.ProductSold, stored.Status)
	assert.ErrorIs(t, buy(f.product.ID), ErrProductUnavailable)

	// a stock edit computed from a stale read is refused
	bundle := f.store.addProduct(f.seller.ID, f.category.ID, "bundle", "10.00", 2)
	racing.checkout = func() { require.NoError(t, buy(bundle.ID)) }
	five := 5
	_, err = svc.UpdateProduct(ctx, f.seller, bundle.ID, UpdateProductRequest{StockQuantity: &five})
	assert.ErrorIs(t, err, ErrProductChanged)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 1, f.store.products[bundle.ID].StockQuantity)

	updated, err = svc.UpdateProduct(ctx, f.seller, bundle.ID, UpdateProductRequest{StockQuantity: &five})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.StockQuantity)
	assert.Equal(t, models.ProductActive, updated.Status)
}

func TestCategories(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewCatalogService(f.store, nil)

	_, err := svc.CreateCategory(ctx, f.seller, CreateCategoryRequest{Name: "Books"})
	assert.ErrorIs(t, err, ErrForbidden)

	c, err := svc.CreateCategory(ctx, f.admin, CreateCategoryRequest{Name: "Games"})
	require.NoError(t, err)
	assert.Equal(t, "games-2", c.Slug)

	missing := int64(9999)
	_, err = svc.CreateCategory(ctx, f.admin, CreateCategoryRequest{Name: "Orphan", ParentID: &missing})
	assert.Equal(t, KindNotFound, KindOf(err))

	err = svc.DeleteCategory(ctx, f.admin, f.category.ID)
	assert.ErrorIs(t, err, ErrCategoryInUse)
	assert.NoError(t, svc.DeleteCategory(ctx, f.admin, c.ID))
}

type failingViews struct{ calls int }

func (v *failingViews) IncrementViews(ctx context.Context, productID int64) error {
	v.calls++
	return errors.New("redis down")
}

func TestIncrementViewsFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	views := &failingViews{}
	svc := NewCatalogService(f.store, views)

	require.NoError(t, svc.IncrementViews(ctx, f.product.ID))
	assert.Equal(t, 1, views.calls)
	assert.EqualValues(t, 1, f.store.products[f.product.ID].ViewsCount)
}
