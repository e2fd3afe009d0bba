package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
)

// MouserOption configures the Mouser adapter.
type MouserOption func(*MouserAdapter)

// WithMouserBaseURL overrides the API base URL (for testing).
func WithMouserBaseURL(u string) MouserOption {
	return func(a *MouserAdapter) { a.baseURL = u }
}

// WithMouserHTTPClient overrides the HTTP client.
func WithMouserHTTPClient(hc *http.Client) MouserOption {
	return func(a *MouserAdapter) { a.http = hc }
}

// WithMouserRateLimit sets the client-side request rate.
func WithMouserRateLimit(rps float64) MouserOption {
	return func(a *MouserAdapter) {
		if rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// MouserAdapter queries the Mouser Search API (API-key authenticated).
type MouserAdapter struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewMouserAdapter creates the Mouser supplier tier.
func NewMouserAdapter(apiKey string, opts ...MouserOption) *MouserAdapter {
	a := &MouserAdapter{
		apiKey:  apiKey,
		baseURL: "https://api.mouser.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *MouserAdapter) Name() string { return TierMouser }

// mouserPart is the subset of Mouser's search response we use.
type mouserPart struct {
	ManufacturerPartNumber string `json:"ManufacturerPartNumber"`
	Manufacturer           string `json:"Manufacturer"`
	Description            string `json:"Description"`
	Category               string `json:"Category"`
	LifecycleStatus        string `json:"LifecycleStatus"`
	DataSheetURL           string `json:"DataSheetUrl"`
	Availability           string `json:"Availability"` // e.g. "15000 In Stock"
	LeadTime               string `json:"LeadTime"`     // e.g. "42 Days"
	ROHSStatus             string `json:"ROHSStatus"`
	PriceBreaks            []struct {
		Quantity int    `json:"Quantity"`
		Price    string `json:"Price"` // "$2.10"
	} `json:"PriceBreaks"`
	ProductAttributes []struct {
		AttributeName  string `json:"AttributeName"`
		AttributeValue string `json:"AttributeValue"`
	} `json:"ProductAttributes"`
}

func (a *MouserAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "mouser: rate limit")
	}

	payload, err := json.Marshal(map[string]any{
		"SearchByPartRequest": map[string]any{
			"mouserPartNumber":  mpn,
			"partSearchOptions": "Exact",
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "mouser: marshal request")
	}

	reqURL := a.baseURL + "/api/v1/search/partnumber?apiKey=" + a.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "mouser: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, NewTransient(TierMouser, eris.Wrap(err, "mouser: request"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, NewTransient(TierMouser, eris.Wrap(readErr, "mouser: read body"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(TierMouser, resp.StatusCode, body)
	}

	var result struct {
		SearchResults struct {
			Parts []mouserPart `json:"Parts"`
		} `json:"SearchResults"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, NewPermanent(TierMouser, eris.Wrap(err, "mouser: unmarshal"), resp.StatusCode)
	}

	part, ok := pickMouserPart(result.SearchResults.Parts, mpn, manufacturer)
	if !ok {
		return nil, ErrNotFound
	}

	raw := &model.RawSourceResult{
		Source:       TierMouser,
		MPN:          part.ManufacturerPartNumber,
		Manufacturer: firstNonEmpty(part.Manufacturer, manufacturer),
		Description:  part.Description,
		Category:     part.Category,
		Lifecycle:    part.LifecycleStatus,
		DatasheetURL: part.DataSheetURL,
		Parameters:   make(map[string]string, len(part.ProductAttributes)+1),
		FetchedAt:    a.now().UTC(),
	}
	if len(part.PriceBreaks) > 0 {
		if price, perr := parseDollarPrice(part.PriceBreaks[0].Price); perr == nil {
			raw.UnitPrice = &price
		}
	}
	if qty, ok := parseAvailability(part.Availability); ok {
		raw.StockQty = &qty
	}
	if days, ok := parseLeadDays(part.LeadTime); ok {
		raw.LeadTimeDays = &days
	}
	for _, attr := range part.ProductAttributes {
		if attr.AttributeName != "" {
			raw.Parameters[attr.AttributeName] = attr.AttributeValue
		}
	}
	if part.ROHSStatus != "" {
		raw.Parameters["RoHS Status"] = part.ROHSStatus
	}

	return raw, nil
}

// pickMouserPart selects the exact MPN match, preferring the requested
// manufacturer when several manufacturers share a part number.
func pickMouserPart(parts []mouserPart, mpn, manufacturer string) (mouserPart, bool) {
	wantMfr := normalize.ManufacturerKey(manufacturer)
	var fallback *mouserPart
	for i, p := range parts {
		if !strings.EqualFold(p.ManufacturerPartNumber, mpn) {
			continue
		}
		if wantMfr == "" || normalize.ManufacturerKey(p.Manufacturer) == wantMfr {
			return p, true
		}
		if fallback == nil {
			fallback = &parts[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return mouserPart{}, false
}

func parseDollarPrice(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

// parseAvailability extracts the leading integer from strings like
// "15000 In Stock".
func parseAvailability(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseLeadDays extracts the day count from strings like "42 Days".
func parseLeadDays(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) < 2 || !strings.EqualFold(fields[1], "days") {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
