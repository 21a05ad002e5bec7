package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-gateway/internal/catalog"
)

var _ catalog.Store = (*CatalogStore)(nil)

func seededCatalog() *CatalogStore {
	categories := []catalog.Category{
		{ID: "c2", Slug: "shoes", Name: "Shoes", Position: 2},
		{ID: "c1", Slug: "shirts", Name: "Shirts", Position: 1},
	}
	var products []catalog.Product
	for i := 0; i < 5; i++ {
		products = append(products, catalog.Product{ID: fmt.Sprintf("shirt-%d", i), CategoryID: "c1", Title: "Shirt"})
	}
	products = append(products, catalog.Product{ID: "shoe-0", CategoryID: "c2", Title: "Shoe"})
	return NewCatalogStore(categories, products)
}

func TestCatalogStoreListCategoriesOrdered(t *testing.T) {
	t.Parallel()

	cats, err := seededCatalog().ListCategories(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"shirts", "shoes"}, []string{cats[0].Slug, cats[1].Slug})
}

func TestCatalogStoreListProducts(t *testing.T) {
	t.Parallel()

	store := seededCatalog()
	ctx := context.Background()

	tests := []struct {
		name      string
		q         catalog.ProductQuery
		wantIDs   []string
		wantTotal int
	}{
		{name: "all defaults", q: catalog.ProductQuery{}, wantIDs: []string{"shirt-0", "shirt-1", "shirt-2", "shirt-3", "shirt-4", "shoe-0"}, wantTotal: 6},
		{name: "category page 2", q: catalog.ProductQuery{CategorySlug: "shirts", Page: 2, PageSize: 2}, wantIDs: []string{"shirt-2", "shirt-3"}, wantTotal: 5},
		{name: "past the end", q: catalog.ProductQuery{CategorySlug: "shoes", Page: 4, PageSize: 2}, wantIDs: []string{}, wantTotal: 1},
	}
	for _, tt := range tests {
		page, err := store.ListProducts(ctx, tt.q)
		require.NoError(t, err, tt.name)
		ids := make([]string, 0, len(page.Items))
		for _, p := range page.Items {
			ids = append(ids, p.ID)
		}
		require.Equal(t, tt.wantIDs, ids, tt.name)
		require.Equal(t, tt.wantTotal, page.Total, tt.name)
	}

	_, err := store.ListProducts(ctx, catalog.ProductQuery{CategorySlug: "hats"})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalogStoreGetAndUpsert(t *testing.T) {
	t.Parallel()

	store := seededCatalog()
	ctx := context.Background()

	_, err := store.GetProduct(ctx, "nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)

	store.Upsert(catalog.Product{ID: "shoe-0", CategoryID: "c2", Title: "Runner", PriceCents: 8999})
	store.Upsert(catalog.Product{ID: "shoe-1", CategoryID: "c2", Title: "Boot"})

	p, err := store.GetProduct(ctx, "shoe-0")
	require.NoError(t, err)
	require.Equal(t, "Runner", p.Title)
	require.EqualValues(t, 8999, p.PriceCents)

	page, err := store.ListProducts(ctx, catalog.ProductQuery{CategorySlug: "shoes"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
}
