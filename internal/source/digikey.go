package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/partsledger/partsledger/internal/model"
)

// OAuthToken is a persisted supplier access token. Refreshed transparently
// by the owning adapter; never exposed to callers of Fetch.
type OAuthToken struct {
	Supplier    string    `json:"supplier"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token needs a refresh, with a safety margin
// so a token does not die mid-request.
func (t *OAuthToken) Expired(now time.Time) bool {
	return t == nil || t.AccessToken == "" || now.After(t.ExpiresAt.Add(-30*time.Second))
}

// TokenStore persists supplier OAuth tokens. Upsert must be a
// single-writer operation keyed by supplier name so concurrent refreshes
// do not clobber each other.
type TokenStore interface {
	GetToken(ctx context.Context, supplier string) (*OAuthToken, error)
	UpsertToken(ctx context.Context, token OAuthToken) error
}

// DigiKeyOption configures the Digi-Key adapter.
type DigiKeyOption func(*DigiKeyAdapter)

// WithDigiKeyBaseURL overrides the API base URL (for testing).
func WithDigiKeyBaseURL(u string) DigiKeyOption {
	return func(a *DigiKeyAdapter) { a.baseURL = u }
}

// WithDigiKeyHTTPClient overrides the HTTP client.
func WithDigiKeyHTTPClient(hc *http.Client) DigiKeyOption {
	return func(a *DigiKeyAdapter) { a.http = hc }
}

// WithDigiKeyRateLimit sets the client-side request rate.
func WithDigiKeyRateLimit(rps float64) DigiKeyOption {
	return func(a *DigiKeyAdapter) {
		if rps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// DigiKeyAdapter queries the Digi-Key product information API using the
// OAuth2 client-credentials flow. Tokens are cached in memory and
// persisted through the TokenStore.
type DigiKeyAdapter struct {
	clientID     string
	clientSecret string
	baseURL      string
	http         *http.Client
	limiter      *rate.Limiter
	tokens       TokenStore

	mu     sync.Mutex
	cached *OAuthToken
	now    func() time.Time
}

// NewDigiKeyAdapter creates the Digi-Key supplier tier.
func NewDigiKeyAdapter(clientID, clientSecret string, tokens TokenStore, opts ...DigiKeyOption) *DigiKeyAdapter {
	a := &DigiKeyAdapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      "https://api.digikey.com",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(4), 4),
		tokens:  tokens,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *DigiKeyAdapter) Name() string { return TierDigiKey }

// dkProduct is the subset of the Digi-Key product details response we use.
type dkProduct struct {
	Description struct {
		ProductDescription string `json:"ProductDescription"`
	} `json:"Description"`
	Manufacturer struct {
		Name string `json:"Name"`
	} `json:"Manufacturer"`
	ManufacturerProductNumber string  `json:"ManufacturerProductNumber"`
	UnitPrice                 float64 `json:"UnitPrice"`
	QuantityAvailable         int     `json:"QuantityAvailable"`
	ManufacturerLeadWeeks     string  `json:"ManufacturerLeadWeeks"`
	DatasheetURL              string  `json:"DatasheetUrl"`
	ProductStatus             struct {
		Status string `json:"Status"`
	} `json:"ProductStatus"`
	Category struct {
		Name string `json:"Name"`
	} `json:"Category"`
	Parameters []struct {
		ParameterText string `json:"ParameterText"`
		ValueText     string `json:"ValueText"`
	} `json:"Parameters"`
	Classifications struct {
		RohsStatus  string `json:"RohsStatus"`
		ReachStatus string `json:"ReachStatus"`
	} `json:"Classifications"`
}

func (a *DigiKeyAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "digikey: rate limit")
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := a.baseURL + "/products/v4/search/" + url.PathEscape(mpn) + "/productdetails"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "digikey: create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-DIGIKEY-Client-Id", a.clientID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, NewTransient(TierDigiKey, eris.Wrap(err, "digikey: request"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, NewTransient(TierDigiKey, eris.Wrap(readErr, "digikey: read body"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked server-side; drop the cache so the next attempt
		// refreshes. The current attempt is retryable.
		a.mu.Lock()
		a.cached = nil
		a.mu.Unlock()
		return nil, NewTransient(TierDigiKey, eris.New("digikey: token rejected"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(TierDigiKey, resp.StatusCode, body)
	}

	var product struct {
		Product dkProduct `json:"Product"`
	}
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, NewPermanent(TierDigiKey, eris.Wrap(err, "digikey: unmarshal"), resp.StatusCode)
	}
	p := product.Product
	if p.ManufacturerProductNumber == "" {
		return nil, ErrNotFound
	}

	raw := &model.RawSourceResult{
		Source:       TierDigiKey,
		MPN:          p.ManufacturerProductNumber,
		Manufacturer: firstNonEmpty(p.Manufacturer.Name, manufacturer),
		Description:  p.Description.ProductDescription,
		Category:     p.Category.Name,
		Lifecycle:    p.ProductStatus.Status,
		DatasheetURL: p.DatasheetURL,
		Parameters:   make(map[string]string, len(p.Parameters)+2),
		FetchedAt:    a.now().UTC(),
	}
	if p.UnitPrice > 0 {
		price := p.UnitPrice
		raw.UnitPrice = &price
	}
	qty := p.QuantityAvailable
	raw.StockQty = &qty
	if weeks := strings.TrimSpace(p.ManufacturerLeadWeeks); weeks != "" {
		if days := parseLeadWeeks(weeks); days > 0 {
			raw.LeadTimeDays = &days
		}
	}
	for _, param := range p.Parameters {
		if param.ParameterText != "" {
			raw.Parameters[param.ParameterText] = param.ValueText
		}
	}
	if p.Classifications.RohsStatus != "" {
		raw.Parameters["RoHS Status"] = p.Classifications.RohsStatus
	}
	if p.Classifications.ReachStatus != "" {
		raw.Parameters["REACH Status"] = p.Classifications.ReachStatus
	}

	return raw, nil
}

// accessToken returns a valid bearer token, refreshing via the
// client-credentials flow when the cached or persisted one has expired.
func (a *DigiKeyAdapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cached.Expired(a.now()) {
		return a.cached.AccessToken, nil
	}

	// Another worker may have refreshed already; check the store first.
	if a.tokens != nil {
		if stored, err := a.tokens.GetToken(ctx, TierDigiKey); err == nil && !stored.Expired(a.now()) {
			a.cached = stored
			return stored.AccessToken, nil
		}
	}

	form := url.Values{
		"client_id":     {a.clientID},
		"client_secret": {a.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "digikey: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", NewTransient(TierDigiKey, eris.Wrap(err, "digikey: token request"), 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", NewTransient(TierDigiKey, eris.Wrap(readErr, "digikey: read token body"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("digikey: token status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if transientStatus(resp.StatusCode) {
			return "", NewTransient(TierDigiKey, err, resp.StatusCode)
		}
		return "", NewPermanent(TierDigiKey, err, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", eris.Wrap(err, "digikey: unmarshal token")
	}

	a.cached = &OAuthToken{
		Supplier:    TierDigiKey,
		AccessToken: tok.AccessToken,
		ExpiresAt:   a.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if a.tokens != nil {
		if err := a.tokens.UpsertToken(ctx, *a.cached); err != nil {
			zap.L().Warn("digikey: failed to persist refreshed token", zap.Error(err))
		}
	}
	return a.cached.AccessToken, nil
}

// parseLeadWeeks converts Digi-Key's lead time in weeks to days.
func parseLeadWeeks(weeks string) int {
	n := 0
	for _, r := range weeks {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n * 7
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
