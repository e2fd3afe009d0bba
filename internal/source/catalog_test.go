package source

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsledger/partsledger/internal/normalize"
)

var catalogColumns = []string{
	"mpn", "manufacturer", "category", "description", "datasheet_url", "lifecycle",
	"unit_price", "stock_qty", "lead_time_days", "rohs_compliant", "reach_compliant",
	"aec_qualified", "extracted_specs", "updated_at",
}

func TestCatalogFetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	price := 2.32
	stock := 5400
	lead := 42
	rohs := true
	updatedAt := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	key := normalize.CatalogKey("ATMEGA328P-PU", "Microchip Technology")
	mock.ExpectQuery("SELECT .+ FROM catalog_components").
		WithArgs(key).
		WillReturnRows(pgxmock.NewRows(catalogColumns).AddRow(
			"ATMEGA328P-PU", "Microchip Technology", "Microcontrollers",
			"8-bit AVR microcontroller", "https://example.com/atmega328p.pdf", "ACTIVE",
			&price, &stock, &lead, &rohs, (*bool)(nil), (*bool)(nil),
			[]byte(`{"package":"28-DIP","voltage":"1.8V ~ 5.5V"}`), updatedAt,
		))

	adapter := NewCatalogAdapter(mock)

	raw, err := adapter.Fetch(context.Background(), "ATMEGA328P-PU", "Microchip Technology")
	require.NoError(t, err)

	assert.Equal(t, TierCatalog, raw.Source)
	assert.Equal(t, "ATMEGA328P-PU", raw.MPN)
	require.NotNil(t, raw.UnitPrice)
	assert.InDelta(t, 2.32, *raw.UnitPrice, 0.001)
	assert.Equal(t, "28-DIP", raw.Parameters["package"])
	assert.Equal(t, "true", raw.Parameters["rohs_compliant"])
	assert.NotContains(t, raw.Parameters, "reach_compliant")
	assert.Equal(t, updatedAt, raw.FetchedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogFetchMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM catalog_components").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(catalogColumns))

	adapter := NewCatalogAdapter(mock)

	_, err = adapter.Fetch(context.Background(), "NOPE-1", "Nobody")
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogFetchDatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM catalog_components").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(assert.AnError)

	adapter := NewCatalogAdapter(mock)

	_, err = adapter.Fetch(context.Background(), "ATMEGA328P-PU", "Microchip")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
