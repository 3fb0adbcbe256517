package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog entry. Its Price is the only price orders trust.
type Product struct {
	ID           string
	Name         string
	Description  string
	Price        decimal.Decimal
	Category     string
	CountInStock int
	Image        Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist; missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
