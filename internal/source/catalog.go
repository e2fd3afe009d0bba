package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
)

// CatalogQuerier is the subset of pgxpool.Pool the catalog adapter needs.
type CatalogQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CatalogAdapter serves previously enriched components from the catalog
// store. Fastest and cheapest tier, checked first.
type CatalogAdapter struct {
	db CatalogQuerier
}

// NewCatalogAdapter creates the catalog-cache tier over a pgx pool.
func NewCatalogAdapter(db CatalogQuerier) *CatalogAdapter {
	return &CatalogAdapter{db: db}
}

func (a *CatalogAdapter) Name() string { return TierCatalog }

const catalogLookupSQL = `SELECT mpn, manufacturer, category, description, datasheet_url, lifecycle,
	unit_price, stock_qty, lead_time_days, rohs_compliant, reach_compliant, aec_qualified,
	extracted_specs, updated_at
FROM catalog_components WHERE catalog_key = $1`

// Fetch looks the part up by its normalized catalog key. The stored record
// is canonical; it is projected back into a raw payload using the
// canonical field names so re-normalization is a no-op.
func (a *CatalogAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	key := normalize.CatalogKey(mpn, manufacturer)

	var (
		raw       model.RawSourceResult
		rohs      *bool
		reach     *bool
		aec       *bool
		specsJSON []byte
		updatedAt time.Time
	)
	err := a.db.QueryRow(ctx, catalogLookupSQL, key).Scan(
		&raw.MPN, &raw.Manufacturer, &raw.Category, &raw.Description, &raw.DatasheetURL,
		&raw.Lifecycle, &raw.UnitPrice, &raw.StockQty, &raw.LeadTimeDays,
		&rohs, &reach, &aec, &specsJSON, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		// The catalog database is local infrastructure; treat failures as
		// transient so a blip does not burn the cheapest tier.
		return nil, NewTransient(TierCatalog, eris.Wrap(err, "catalog: lookup"), 0)
	}

	raw.Source = TierCatalog
	raw.FetchedAt = updatedAt
	raw.Parameters = map[string]string{}

	if len(specsJSON) > 0 {
		var specs map[string]string
		if jsonErr := json.Unmarshal(specsJSON, &specs); jsonErr == nil {
			for k, v := range specs {
				raw.Parameters[k] = v
			}
		}
	}
	if rohs != nil {
		raw.Parameters["rohs_compliant"] = fmt.Sprintf("%t", *rohs)
	}
	if reach != nil {
		raw.Parameters["reach_compliant"] = fmt.Sprintf("%t", *reach)
	}
	if aec != nil {
		raw.Parameters["aec_qualified"] = fmt.Sprintf("%t", *aec)
	}

	return &raw, nil
}

// ProjectCanonical maps a stored canonical component back into a raw
// payload using the canonical field names, so re-normalization is a
// no-op. Used by catalog tiers that read through a component store
// instead of the pgx pool.
func ProjectCanonical(comp *model.CanonicalComponent) *model.RawSourceResult {
	raw := &model.RawSourceResult{
		Source:        TierCatalog,
		MPN:           comp.MPN,
		Manufacturer:  comp.Manufacturer,
		Description:   comp.Description,
		Category:      comp.Category,
		Lifecycle:     string(comp.Lifecycle),
		DatasheetURL:  comp.DatasheetURL,
		UnitPrice:     comp.UnitPrice,
		StockQty:      comp.StockQty,
		LeadTimeDays:  comp.LeadTimeDays,
		SupplierCount: comp.SupplierCount,
		Parameters:    map[string]string{},
		FetchedAt:     comp.NormalizedAt,
	}
	for k, v := range comp.ExtractedSpecs {
		raw.Parameters[string(k)] = v
	}
	if comp.RoHSCompliant != nil {
		raw.Parameters["rohs_compliant"] = fmt.Sprintf("%t", *comp.RoHSCompliant)
	}
	if comp.REACHCompliant != nil {
		raw.Parameters["reach_compliant"] = fmt.Sprintf("%t", *comp.REACHCompliant)
	}
	if comp.AECQualified != nil {
		raw.Parameters["aec_qualified"] = fmt.Sprintf("%t", *comp.AECQualified)
	}
	return raw
}
