// Package source defines the data-source adapter capability and the
// reference adapters the enrichment orchestrator sequences through.
package source

import (
	"context"

	"github.com/partsledger/partsledger/internal/model"
)

// Adapter fetches a raw component payload for an MPN from one data source.
// Implementations own their client-side rate limiting and must classify
// failures as transient (retryable) or permanent via the error types in
// this package. A miss is ErrNotFound, never a nil-nil return.
type Adapter interface {
	// Name returns the tier identifier ("catalog", "digikey", ...).
	Name() string
	// Fetch looks up one part. The context carries the per-tier timeout.
	Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error)
}

// Tier names, in the fixed attempt order the orchestrator uses.
const (
	TierCatalog  = "catalog"
	TierDigiKey  = "digikey"
	TierMouser   = "mouser"
	TierOctopart = "octopart"
	TierAI       = "ai"
	TierScrape   = "scrape"
)

// TierOrder is the declared tier sequence: cheapest first, web scrape last.
var TierOrder = []string{TierCatalog, TierDigiKey, TierMouser, TierOctopart, TierAI, TierScrape}
