package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/quality"
	"github.com/partsledger/partsledger/internal/source"
	"github.com/partsledger/partsledger/internal/store"
	"github.com/partsledger/partsledger/internal/throttle"
)

// fakeAdapter is a scriptable tier.
type fakeAdapter struct {
	name    string
	fetchFn func(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error)
	calls   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, mpn, manufacturer string) (*model.RawSourceResult, error) {
	f.calls++
	return f.fetchFn(ctx, mpn, manufacturer)
}

func missing(name string) *fakeAdapter {
	return &fakeAdapter{name: name, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		return nil, source.ErrNotFound
	}}
}

func returning(name string, raw *model.RawSourceResult) *fakeAdapter {
	return &fakeAdapter{name: name, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		r := *raw
		r.Source = name
		return &r, nil
	}}
}

// fakeGate counts admissions and remembers which jobs claimed slots.
type fakeGate struct {
	mu         sync.Mutex
	acquireErr error
	acquired   int
	released   int
	jobIDs     []string
}

type fakeSlot struct{ g *fakeGate }

func (s *fakeSlot) Release(context.Context) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.g.released++
}

func (g *fakeGate) Acquire(_ context.Context, jobID string) (throttle.Slot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.acquireErr != nil {
		return nil, g.acquireErr
	}
	g.acquired++
	g.jobIDs = append(g.jobIDs, jobID)
	return &fakeSlot{g: g}, nil
}

// memStore is an in-memory store.Store with error injection.
type memStore struct {
	mu              sync.Mutex
	components      map[string]*model.CanonicalComponent
	jobs            map[string]*model.JobRecord
	checkpoints     map[string]*model.Checkpoint
	checkpointSaves int
	history         []*model.EnrichmentResult
	historyErr      error
}

func newMemStore() *memStore {
	return &memStore{
		components:  map[string]*model.CanonicalComponent{},
		jobs:        map[string]*model.JobRecord{},
		checkpoints: map[string]*model.Checkpoint{},
	}
}

func (m *memStore) UpsertComponent(_ context.Context, c *model.CanonicalComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.MPN] = c
	return nil
}

func (m *memStore) GetComponent(_ context.Context, mpn, _ string) (*model.CanonicalComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[mpn]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) CreateJob(_ context.Context, job *model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) UpdateJob(_ context.Context, job *model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (m *memStore) ListJobs(_ context.Context, _ string, _ int) ([]*model.JobRecord, error) {
	return nil, nil
}

func (m *memStore) AppendHistory(_ context.Context, result *model.EnrichmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return m.historyErr
	}
	m.history = append(m.history, result)
	return nil
}

func (m *memStore) ListHistory(_ context.Context, _ time.Time, _ int) ([]*model.EnrichmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history, nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp *model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	m.checkpoints[cp.JobID] = &c
	m.checkpointSaves++
	return nil
}

func (m *memStore) GetCheckpoint(_ context.Context, jobID string) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cp, nil
}

func (m *memStore) DeleteCheckpoint(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, jobID)
	return nil
}

func (m *memStore) RiskProfile(_ context.Context, orgID string) (model.RiskProfile, error) {
	return model.DefaultRiskProfile(orgID), nil
}

func (m *memStore) SaveRiskProfile(context.Context, model.RiskProfile) error { return nil }

func (m *memStore) GetToken(context.Context, string) (*source.OAuthToken, error) { return nil, nil }

func (m *memStore) UpsertToken(context.Context, source.OAuthToken) error { return nil }

// captureEmitter records published events.
type captureEmitter struct {
	mu      sync.Mutex
	results []*model.EnrichmentResult
	scores  []*model.RiskScore
}

func (e *captureEmitter) EnrichmentCompleted(_ context.Context, r *model.EnrichmentResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
	return nil
}

func (e *captureEmitter) RiskScored(_ context.Context, s *model.RiskScore) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scores = append(e.scores, s)
	return nil
}

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

// fullRaw carries every quality signal; scores 100.
func fullRaw(mpn string) *model.RawSourceResult {
	return &model.RawSourceResult{
		MPN:          mpn,
		Manufacturer: "Microchip Technology",
		Description:  "8-bit AVR microcontroller",
		Category:     "Microcontrollers",
		Lifecycle:    "Active",
		DatasheetURL: "https://example.com/ds.pdf",
		UnitPrice:    ptrF(2.32),
		StockQty:     ptrI(5400),
		Parameters: map[string]string{
			"package":         "28-DIP",
			"voltage":         "1.8V ~ 5.5V",
			"current":         "200mA",
			"power":           "100mW",
			"resistance":      "n/a",
			"capacitance":     "n/a",
			"frequency":       "20MHz",
			"temp_range":      "-40C ~ 85C",
			"rohs_compliant":  "true",
			"reach_compliant": "true",
		},
		FetchedAt: time.Now(),
	}
}

// stagingRaw lands in the 70-95 band: three specs, pricing, description
// and datasheet, no compliance flags.
func stagingRaw(mpn string) *model.RawSourceResult {
	return &model.RawSourceResult{
		MPN:          mpn,
		Manufacturer: "Murata",
		Description:  "0.1uF ceramic capacitor",
		DatasheetURL: "https://example.com/cap.pdf",
		UnitPrice:    ptrF(0.10),
		StockQty:     ptrI(15000),
		Parameters: map[string]string{
			"package":     "0603",
			"voltage":     "50V",
			"capacitance": "0.1uF",
		},
		FetchedAt: time.Now(),
	}
}

// thinRaw has almost nothing; scores below 70.
func thinRaw(mpn, desc string) *model.RawSourceResult {
	return &model.RawSourceResult{
		MPN:         mpn,
		Description: desc,
		FetchedAt:   time.Now(),
	}
}

type fixture struct {
	orch    *Orchestrator
	gate    *fakeGate
	store   *memStore
	emitter *captureEmitter
}

func newFixture(t *testing.T, adapters []source.Adapter, mutate func(*Config)) *fixture {
	t.Helper()
	gate := &fakeGate{}
	st := newMemStore()
	emitter := &captureEmitter{}

	cfg := DefaultConfig()
	cfg.TierRetries = 1
	cfg.RetryBackoff = 0
	cfg.TierTimeout = time.Second
	var enabled []string
	for _, a := range adapters {
		enabled = append(enabled, a.Name())
	}
	cfg.EnabledTiers = enabled
	if mutate != nil {
		mutate(&cfg)
	}

	orch, err := New(adapters, gate, st, emitter, cfg)
	require.NoError(t, err)
	return &fixture{orch: orch, gate: gate, store: st, emitter: emitter}
}

func ec() model.EnrichmentContext {
	return model.EnrichmentContext{
		OrgID:    "org-1",
		Source:   model.TriggerCustomer,
		Priority: model.PriorityNormal,
	}
}

func TestEnrichFirstTierProduction(t *testing.T) {
	catalog := returning(source.TierCatalog, fullRaw("ATMEGA328P-PU"))
	digikey := missing(source.TierDigiKey)
	f := newFixture(t, []source.Adapter{catalog, digikey}, nil)

	result, err := f.orch.Enrich(context.Background(), "ATMEGA328P-PU", "Microchip Technology", ec())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, model.RouteProduction, result.Destination)
	assert.Equal(t, 100.0, result.QualityScore)
	assert.Equal(t, model.StateCompleted, result.State)
	assert.Equal(t, []string{source.TierCatalog}, result.TiersUsed)

	// A staging-or-better hit never invokes later tiers.
	assert.Equal(t, 1, catalog.calls)
	assert.Zero(t, digikey.calls)

	// Routed component landed in the catalog.
	assert.Contains(t, f.store.components, "ATMEGA328P-PU")

	// One event, one history row, slot released.
	assert.Len(t, f.emitter.results, 1)
	assert.Len(t, f.store.history, 1)
	assert.Equal(t, 1, f.gate.acquired)
	assert.Equal(t, 1, f.gate.released)
}

func TestEnrichFallsThroughToSupplier(t *testing.T) {
	catalog := missing(source.TierCatalog)
	digikey := returning(source.TierDigiKey, stagingRaw("GRM188R71H104KA93D"))
	f := newFixture(t, []source.Adapter{catalog, digikey}, nil)

	result, err := f.orch.Enrich(context.Background(), "GRM188R71H104KA93D", "Murata", ec())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, model.RouteStaging, result.Destination)
	assert.GreaterOrEqual(t, result.QualityScore, quality.StagingThreshold)
	assert.Less(t, result.QualityScore, quality.ProductionThreshold)
	assert.Equal(t, []string{source.TierCatalog, source.TierDigiKey}, result.TiersUsed)
	assert.Len(t, result.TierAttempts, 2)
	assert.Equal(t, "not_found", result.TierAttempts[0].Outcome)
	assert.Equal(t, "hit", result.TierAttempts[1].Outcome)
}

func TestEnrichAllMissesRejected(t *testing.T) {
	f := newFixture(t, []source.Adapter{
		missing(source.TierCatalog),
		missing(source.TierDigiKey),
		missing(source.TierMouser),
	}, nil)

	result, err := f.orch.Enrich(context.Background(), "XYZZY-0", "", ec())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, model.RouteRejected, result.Destination)
	assert.Nil(t, result.Component)
	assert.Zero(t, result.QualityScore)
	assert.Empty(t, f.store.components)
	assert.Len(t, f.emitter.results, 1)
}

func TestEnrichBestOfExhaustion(t *testing.T) {
	// Every tier yields a below-staging hit; the best score wins, and on
	// ties the earlier tier is kept.
	catalog := returning(source.TierCatalog, thinRaw("PART-1", "a sparse description"))
	digikey := returning(source.TierDigiKey, thinRaw("PART-1", "a sparse description"))
	f := newFixture(t, []source.Adapter{catalog, digikey}, nil)

	result, err := f.orch.Enrich(context.Background(), "PART-1", "", ec())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, model.RouteRejected, result.Destination)
	require.NotNil(t, result.Component)
	assert.Equal(t, source.TierCatalog, result.Component.Source)
	assert.Positive(t, result.QualityScore)
	// Both tiers were walked before giving up.
	assert.Equal(t, 1, catalog.calls)
	assert.Equal(t, 1, digikey.calls)
}

func TestEnrichTransientRetryThenHit(t *testing.T) {
	tries := 0
	flaky := &fakeAdapter{name: source.TierDigiKey, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		tries++
		if tries == 1 {
			return nil, source.NewTransient(source.TierDigiKey, eris.New("503"), 503)
		}
		return fullRaw("NE555P"), nil
	}}
	f := newFixture(t, []source.Adapter{flaky}, nil)

	result, err := f.orch.Enrich(context.Background(), "NE555P", "", ec())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, flaky.calls)
	// The audit trail shows one attempt entry for the tier, not one per try.
	assert.Len(t, result.TierAttempts, 1)
	assert.Equal(t, "hit", result.TierAttempts[0].Outcome)
}

func TestEnrichPermanentErrorAdvancesWithoutRetry(t *testing.T) {
	broken := &fakeAdapter{name: source.TierDigiKey, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		return nil, source.NewPermanent(source.TierDigiKey, eris.New("bad credentials"), 403)
	}}
	mouser := returning(source.TierMouser, stagingRaw("PART-2"))
	f := newFixture(t, []source.Adapter{broken, mouser}, nil)

	result, err := f.orch.Enrich(context.Background(), "PART-2", "", ec())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, "error", result.TierAttempts[0].Outcome)
	assert.Contains(t, result.TierAttempts[0].Error, "bad credentials")
}

func TestEnrichTransientRetriesBounded(t *testing.T) {
	alwaysDown := &fakeAdapter{name: source.TierDigiKey, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		return nil, source.NewTransient(source.TierDigiKey, eris.New("503"), 503)
	}}
	f := newFixture(t, []source.Adapter{alwaysDown}, func(cfg *Config) {
		cfg.TierRetries = 2
	})

	result, err := f.orch.Enrich(context.Background(), "PART-3", "", ec())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, alwaysDown.calls) // initial try + 2 retries
}

func TestEnrichCapacityRejected(t *testing.T) {
	catalog := returning(source.TierCatalog, fullRaw("PART-4"))
	f := newFixture(t, []source.Adapter{catalog}, nil)
	f.gate.acquireErr = eris.Wrap(eris.New("throttle: concurrency capacity exceeded"), "orchestrator")

	result, err := f.orch.Enrich(context.Background(), "PART-4", "", ec())
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StateRejectedNoCapacity, result.State)
	assert.False(t, result.Success)
	assert.Zero(t, catalog.calls)
	assert.Zero(t, f.gate.released)
	// The rejection is still a terminal outcome: one event, one audit row.
	assert.Len(t, f.emitter.results, 1)
	assert.Len(t, f.store.history, 1)
}

func TestEnrichCancelledBetweenTiers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeAdapter{name: source.TierCatalog, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		cancel() // job cancelled while the first tier runs
		return nil, source.ErrNotFound
	}}
	second := missing(source.TierDigiKey)
	f := newFixture(t, []source.Adapter{first, second}, nil)

	result, err := f.orch.Enrich(ctx, "PART-5", "", ec())
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StateCancelled, result.State)
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
	// The slot is still released on the cancellation path.
	assert.Equal(t, 1, f.gate.released)
}

func TestEnrichSlotReleasedOnPanic(t *testing.T) {
	boom := &fakeAdapter{name: source.TierCatalog, fetchFn: func(context.Context, string, string) (*model.RawSourceResult, error) {
		panic("adapter bug")
	}}
	f := newFixture(t, []source.Adapter{boom}, nil)

	assert.Panics(t, func() {
		_, _ = f.orch.Enrich(context.Background(), "PART-6", "", ec())
	})
	assert.Equal(t, 1, f.gate.released)
}

func TestEnrichAIAndScrapeFlags(t *testing.T) {
	f := newFixture(t, []source.Adapter{
		missing(source.TierCatalog),
		missing(source.TierAI),
		returning(source.TierScrape, stagingRaw("PART-7")),
	}, nil)

	result, err := f.orch.Enrich(context.Background(), "PART-7", "", ec())
	require.NoError(t, err)

	assert.False(t, result.AIUsed) // a clean miss is not usage
	assert.True(t, result.WebScrapingUsed)
}

func TestEnrichDegradedOnAuditFailure(t *testing.T) {
	f := newFixture(t, []source.Adapter{returning(source.TierCatalog, fullRaw("PART-8"))}, nil)
	f.store.historyErr = eris.New("disk full")

	result, err := f.orch.Enrich(context.Background(), "PART-8", "", ec())
	require.NoError(t, err)

	// The enrichment itself succeeded; only the audit trail is degraded.
	assert.True(t, result.Success)
	assert.True(t, result.Degraded)
	assert.Len(t, f.emitter.results, 1)
}

func TestEnrichCheckpointsEachTier(t *testing.T) {
	catalog := missing(source.TierCatalog)
	digikey := returning(source.TierDigiKey, stagingRaw("GRM188R71H104KA93D"))
	f := newFixture(t, []source.Adapter{catalog, digikey}, nil)

	result, err := f.orch.Enrich(context.Background(), "GRM188R71H104KA93D", "Murata", ec())
	require.NoError(t, err)

	// One cursor write per tier walked, and the cursor is gone once the
	// job is terminal.
	assert.Equal(t, 2, f.store.checkpointSaves)
	assert.Empty(t, f.store.checkpoints)
	assert.Equal(t, []string{result.JobID}, f.gate.jobIDs)
}

func TestEnrichResumesFromCheckpoint(t *testing.T) {
	// The catalog tier would score production; a resumed run must not
	// re-fetch it.
	catalog := returning(source.TierCatalog, fullRaw("NE555P"))
	digikey := returning(source.TierDigiKey, stagingRaw("NE555P"))
	f := newFixture(t, []source.Adapter{catalog, digikey}, nil)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.CreateJob(ctx, &model.JobRecord{
		ID: "job-resume", OrgID: "org-1", MPN: "NE555P",
		State: model.StateTierAttempt, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.SaveCheckpoint(ctx, &model.Checkpoint{
		JobID:     "job-resume",
		Attempts:  []model.TierAttempt{{Tier: source.TierCatalog, Outcome: "not_found"}},
		UpdatedAt: now,
	}))

	c := ec()
	c.JobID = "job-resume"
	result, err := f.orch.Enrich(ctx, "NE555P", "", c)
	require.NoError(t, err)

	assert.Equal(t, "job-resume", result.JobID)
	assert.Zero(t, catalog.calls)
	assert.Equal(t, 1, digikey.calls)
	// The audit trail carries the earlier tier's attempt plus the new one.
	require.Len(t, result.TierAttempts, 2)
	assert.Equal(t, source.TierCatalog, result.TierAttempts[0].Tier)
	assert.Equal(t, source.TierDigiKey, result.TierAttempts[1].Tier)
	assert.True(t, result.Success)
	assert.Empty(t, f.store.checkpoints)
}

func TestEnrichResumedBestShortCircuits(t *testing.T) {
	digikey := returning(source.TierDigiKey, fullRaw("PART-R"))
	f := newFixture(t, []source.Adapter{missing(source.TierCatalog), digikey}, nil)

	ctx := context.Background()
	now := time.Now()
	best := normalize.Normalize(*stagingRaw("PART-R"))
	require.NoError(t, f.store.CreateJob(ctx, &model.JobRecord{
		ID: "job-hit", OrgID: "org-1", MPN: "PART-R",
		State: model.StateTierAttempt, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.store.SaveCheckpoint(ctx, &model.Checkpoint{
		JobID:     "job-hit",
		Attempts:  []model.TierAttempt{{Tier: source.TierCatalog, Outcome: "hit"}},
		Best:      &best,
		UpdatedAt: now,
	}))

	c := ec()
	c.JobID = "job-hit"
	result, err := f.orch.Enrich(ctx, "PART-R", "", c)
	require.NoError(t, err)

	// The checkpointed candidate already routes to staging; no further
	// tier is spent re-deriving that.
	assert.Zero(t, digikey.calls)
	assert.True(t, result.Success)
	assert.Equal(t, model.RouteStaging, result.Destination)
	assert.Equal(t, model.StateCompleted, result.State)
}

func TestNewRejectsEmptyTierSet(t *testing.T) {
	_, err := New(nil, &fakeGate{}, newMemStore(), &captureEmitter{}, Config{})
	require.Error(t, err)
}

func TestNewRejectsEnabledTierWithoutAdapter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledTiers = []string{source.TierDigiKey}
	_, err := New(nil, &fakeGate{}, newMemStore(), &captureEmitter{}, cfg)
	require.Error(t, err)
}
