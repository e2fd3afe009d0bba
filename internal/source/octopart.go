package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/partsledger/partsledger/internal/model"
)

// OctopartOption configures the Octopart adapter.
type OctopartOption func(*OctopartAdapter)

// WithOctopartBaseURL overrides the API base URL (for testing).
func WithOctopartBaseURL(u string) OctopartOption {
	return func(a *OctopartAdapter) { a.baseURL = u }
}

// WithOctopartHTTPClient overrides the HTTP client.
func WithOctopartHTTPClient(hc *http.Client) OctopartOption {
	return func(a *OctopartAdapter) { a.http = hc }
}

// OctopartAdapter queries the Octopart (Nexar) aggregator GraphQL API.
// Aggregator data carries seller counts, which feed the single-source
// risk factor downstream.
type OctopartAdapter struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewOctopartAdapter creates the Octopart aggregator tier.
func NewOctopartAdapter(token string, opts ...OctopartOption) *OctopartAdapter {
	a := &OctopartAdapter{
		token:   token,
		baseURL: "https://api.nexar.com/graphql",
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *OctopartAdapter) Name() string { return TierOctopart }

const octopartQuery = `query PartLookup($mpn: String!) {
  supSearchMpn(q: $mpn, limit: 1) {
    results {
      part {
        mpn
        manufacturer { name }
        shortDescription
        category { name }
        bestDatasheet { url }
        medianPrice1000 { price }
        totalAvail
        sellers { company { name } }
        specs { attribute { name } displayValue }
      }
    }
  }
}`

type octopartPart struct {
	MPN          string `json:"mpn"`
	Manufacturer struct {
		Name string `json:"name"`
	} `json:"manufacturer"`
	ShortDescription string `json:"shortDescription"`
	Category         struct {
		Name string `json:"name"`
	} `json:"category"`
	BestDatasheet struct {
		URL string `json:"url"`
	} `json:"bestDatasheet"`
	MedianPrice1000 *struct {
		Price float64 `json:"price"`
	} `json:"medianPrice1000"`
	TotalAvail int `json:"totalAvail"`
	Sellers    []struct {
		Company struct {
			Name string `json:"name"`
		} `json:"company"`
	} `json:"sellers"`
	Specs []struct {
		Attribute struct {
			Name string `json:"name"`
		} `json:"attribute"`
		DisplayValue string `json:"displayValue"`
	} `json:"specs"`
}

func (a *OctopartAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "octopart: rate limit")
	}

	payload, err := json.Marshal(map[string]any{
		"query":     octopartQuery,
		"variables": map[string]string{"mpn": mpn},
	})
	if err != nil {
		return nil, eris.Wrap(err, "octopart: marshal query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "octopart: create request")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, NewTransient(TierOctopart, eris.Wrap(err, "octopart: request"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, NewTransient(TierOctopart, eris.Wrap(readErr, "octopart: read body"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(TierOctopart, resp.StatusCode, body)
	}

	var result struct {
		Data struct {
			SupSearchMpn struct {
				Results []struct {
					Part octopartPart `json:"part"`
				} `json:"results"`
			} `json:"supSearchMpn"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewPermanent(TierOctopart, eris.Wrap(err, "octopart: unmarshal"), resp.StatusCode)
	}
	if len(result.Errors) > 0 {
		return nil, NewPermanent(TierOctopart, eris.Errorf("octopart: graphql: %s", result.Errors[0].Message), resp.StatusCode)
	}
	if len(result.Data.SupSearchMpn.Results) == 0 {
		return nil, ErrNotFound
	}
	p := result.Data.SupSearchMpn.Results[0].Part

	raw := &model.RawSourceResult{
		Source:       TierOctopart,
		MPN:          p.MPN,
		Manufacturer: firstNonEmpty(p.Manufacturer.Name, manufacturer),
		Description:  p.ShortDescription,
		Category:     p.Category.Name,
		DatasheetURL: p.BestDatasheet.URL,
		Parameters:   make(map[string]string, len(p.Specs)),
		FetchedAt:    a.now().UTC(),
	}
	if p.MedianPrice1000 != nil && p.MedianPrice1000.Price > 0 {
		price := p.MedianPrice1000.Price
		raw.UnitPrice = &price
	}
	avail := p.TotalAvail
	raw.StockQty = &avail
	raw.SupplierCount = len(p.Sellers)
	for _, s := range p.Specs {
		if s.Attribute.Name != "" {
			raw.Parameters[s.Attribute.Name] = s.DisplayValue
		}
	}

	return raw, nil
}
