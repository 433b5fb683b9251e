package catalog

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

var productColumnNames = []string{"id", "vendor_id", "name", "price", "status", "negotiation_enabled", "discount_percent"}

func TestProductRepository(t *testing.T) {
	t.Run("get scans negotiation settings", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM products WHERE id = \$1`).
			WithArgs("PROD-001").
			WillReturnRows(sqlmock.NewRows(productColumnNames).
				AddRow("PROD-001", "vendor-1", "Teapot", int64(450000), "published", true, 15.0))

		p, err := NewProductRepository(db).Get(context.Background(), "PROD-001")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, domain.ProductStatusPublished, p.Status)
		assert.True(t, p.Negotiation.Enabled)
		assert.Equal(t, 15.0, p.Negotiation.DiscountPercent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get returns nil for missing rows", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FROM products`).WillReturnRows(sqlmock.NewRows(productColumnNames))

		p, err := NewProductRepository(db).Get(context.Background(), "NOPE")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("update negotiation returns the new row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`UPDATE products SET negotiation_enabled = \$2, discount_percent = \$3`).
			WithArgs("PROD-001", false, 10.0).
			WillReturnRows(sqlmock.NewRows(productColumnNames).
				AddRow("PROD-001", "vendor-1", "Teapot", int64(450000), "published", false, 10.0))

		p, err := NewProductRepository(db).UpdateNegotiation(context.Background(), "PROD-001",
			domain.NegotiationSettings{Enabled: false, DiscountPercent: 10})
		require.NoError(t, err)
		assert.False(t, p.Negotiation.Enabled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
