package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const categoryColumns = `id, name, slug, description, parent_id, is_active, order_index, created_at, updated_at`

const productColumns = `id, seller_id, category_id, title, slug, description, price, discount_price, stock_quantity,
	status, views_count, rating, reviews_count, sales_count, created_at, updated_at, deleted_at`

const imageColumns = `id, product_id, url, alt_text, order_index, is_primary, created_at`

// CreateCategory inserts a new category
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	query := `
		INSERT INTO categories (name, slug, description, parent_id, is_active, order_index)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, c, query, c.Name, c.Slug, c.Description, c.ParentID, c.IsActive, c.OrderIndex)
	return mapError(err)
}

// GetCategoryByID retrieves a category by ID
func (s *Store) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := s.db.GetContext(ctx, &c, "SELECT "+categoryColumns+" FROM categories WHERE id = $1", id)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// ListCategories returns categories ordered for display
func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	query := "SELECT " + categoryColumns + " FROM categories"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY order_index, name"

	categories := []models.Category{}
	err := s.db.SelectContext(ctx, &categories, query)
	return categories, mapError(err)
}

// CategorySlugExists reports whether slug is taken by a category
func (s *Store) CategorySlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM categories WHERE slug = $1)", slug)
	return exists, mapError(err)
}

// DeleteCategory removes a category. Children are re-parented to NULL by the
// foreign key; products referencing it make the delete fail with ErrReferenced.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE id = $1", id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProductSlugExists reports whether slug is taken by any product, deleted ones included
func (s *Store) ProductSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM products WHERE slug = $1)", slug)
	return exists, mapError(err)
}

// CreateProduct inserts a product and its images in one transaction
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO products (seller_id, category_id, title, slug, description, price, discount_price,
				stock_quantity, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, views_count, rating, reviews_count, sales_count, created_at, updated_at`

		err := tx.GetContext(ctx, p, query,
			p.SellerID, p.CategoryID, p.Title, p.Slug, p.Description, p.Price, p.DiscountPrice,
			p.StockQuantity, p.Status)
		if err != nil {
			return mapError(err)
		}
		return insertImages(ctx, tx, p.ID, p.Images)
	})
}

func insertImages(ctx context.Context, tx *sqlx.Tx, productID int64, images []models.ProductImage) error {
	for i := range images {
		img := &images[i]
		img.ProductID = productID
		err := tx.GetContext(ctx, img, `
			INSERT INTO product_images (product_id, url, alt_text, order_index, is_primary)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			productID, img.URL, img.AltText, img.OrderIndex, img.IsPrimary)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

// GetProductByID retrieves a live (not soft-deleted) product with its images
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.attachImages(ctx, []*models.Product{&p}); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductsByIDs retrieves multiple live products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, mapError(err)
	}

	ptrs := make([]*models.Product, len(products))
	for i := range products {
		ptrs[i] = &products[i]
	}
	if err := s.attachImages(ctx, ptrs); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) attachImages(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Product, len(products))
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		p.Images = []models.ProductImage{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	query, args, err := sqlx.In(
		"SELECT "+imageColumns+" FROM product_images WHERE product_id IN (?) ORDER BY order_index, id", ids)
	if err != nil {
		return err
	}

	var images []models.ProductImage
	if err := s.db.SelectContext(ctx, &images, s.db.Rebind(query), args...); err != nil {
		return mapError(err)
	}
	for _, img := range images {
		if p, ok := byID[img.ProductID]; ok {
			p.Images = append(p.Images, img)
		}
	}
	return nil
}

// UpdateProduct writes the mutable fields of a product. Stock and status are
// left alone when expected is nil; otherwise they are swapped only if the row
// still holds expected, and ErrStaleState reports that a checkout or another
// edit got there first. p receives the stored stock, status and updated_at.
// When replaceImages is set the gallery is replaced in the same transaction.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product, expected *models.Inventory, replaceImages bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			StockQuantity int                  `db:"stock_quantity"`
			Status        models.ProductStatus `db:"status"`
			UpdatedAt     time.Time            `db:"updated_at"`
		}

		var err error
		if expected == nil {
			err = tx.GetContext(ctx, &row, `
				UPDATE products
				SET description = $1, price = $2, discount_price = $3, updated_at = NOW()
				WHERE id = $4 AND deleted_at IS NULL
				RETURNING stock_quantity, status, updated_at`,
				p.Description, p.Price, p.DiscountPrice, p.ID)
		} else {
			err = tx.GetContext(ctx, &row, `
				UPDATE products
				SET description = $1, price = $2, discount_price = $3, stock_quantity = $4, status = $5, updated_at = NOW()
				WHERE id = $6 AND deleted_at IS NULL AND stock_quantity = $7 AND status = $8
				RETURNING stock_quantity, status, updated_at`,
				p.Description, p.Price, p.DiscountPrice, p.StockQuantity, p.Status, p.ID,
				expected.StockQuantity, expected.Status)
		}
		if err != nil {
			if err = mapError(err); err != ErrNotFound || expected == nil {
				return err
			}
			var exists bool
			err := tx.GetContext(ctx, &exists,
				"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)", p.ID)
			if err != nil {
				return mapError(err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrStaleState
		}
		p.StockQuantity, p.Status, p.UpdatedAt = row.StockQuantity, row.Status, row.UpdatedAt

		if !replaceImages {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM product_images WHERE product_id = $1", p.ID); err != nil {
			return mapError(err)
		}
		return insertImages(ctx, tx, p.ID, p.Images)
	})
}

// SoftDeleteProduct hides a product while keeping it for past orders
func (s *Store) SoftDeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var productOrderBy = map[models.ProductSort]string{
	models.SortNewest:    "created_at DESC, id DESC",
	models.SortOldest:    "created_at ASC, id ASC",
	models.SortPriceAsc:  "price ASC, id ASC",
	models.SortPriceDesc: "price DESC, id DESC",
	models.SortRating:    "rating DESC, reviews_count DESC, id DESC",
}

// ListActiveProducts returns one page of active products matching filter and the total match count
func (s *Store) ListActiveProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int64, error) {
	where := []string{"status = 'active'", "deleted_at IS NULL"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CategoryID != nil {
		where = append(where, "category_id = "+arg(*filter.CategoryID))
	}
	if filter.MinPrice != nil {
		where = append(where, "price >= "+arg(*filter.MinPrice))
	}
	if filter.MaxPrice != nil {
		where = append(where, "price <= "+arg(*filter.MaxPrice))
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}
	clause := strings.Join(where, " AND ")

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products WHERE "+clause, args...); err != nil {
		return nil, 0, mapError(err)
	}

	orderBy, ok := productOrderBy[filter.Sort]
	if !ok {
		orderBy = productOrderBy[models.SortNewest]
	}
	page := filter.Page.Normalize()
	query := fmt.Sprintf("SELECT %s FROM products WHERE %s ORDER BY %s LIMIT %s OFFSET %s",
		productColumns, clause, orderBy, arg(page.PerPage), arg(page.Offset()))

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, mapError(err)
	}

	ptrs := make([]*models.Product, len(products))
	for i := range products {
		ptrs[i] = &products[i]
	}
	if err := s.attachImages(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// AddProductViews adds n to the view counter of a product
func (s *Store) AddProductViews(ctx context.Context, id int64, n int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE products SET views_count = views_count + $1 WHERE id = $2", n, id)
	return mapError(err)
}
