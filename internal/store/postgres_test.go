package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/source"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func TestUpsertComponent(t *testing.T) {
	s, mock := newMockStore(t)

	price := 2.32
	rohs := true
	c := &model.CanonicalComponent{
		MPN:           "ATMEGA328P-PU",
		Manufacturer:  "Microchip Technology",
		Category:      "Microcontrollers",
		Lifecycle:     model.LifecycleActive,
		UnitPrice:     &price,
		RoHSCompliant: &rohs,
		ExtractedSpecs: map[model.SpecKey]string{
			model.SpecPackage: "28-DIP",
		},
		Source:       "digikey",
		NormalizedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO catalog_components").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertComponent(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetComponentMiss(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM catalog_components").
		WithArgs(normalize.CatalogKey("NOPE-1", "Nobody")).
		WillReturnRows(pgxmock.NewRows([]string{"mpn"}))

	_, err := s.GetComponent(context.Background(), "NOPE-1", "Nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	job := &model.JobRecord{
		ID:        "job-1",
		OrgID:     "org-1",
		MPN:       "NE555P",
		Trigger:   model.TriggerCustomer,
		Priority:  model.PriorityHigh,
		State:     model.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO enrichment_jobs").
		WithArgs("job-1", "org-1", "NE555P", "", "customer", "high", "PENDING",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateJob(context.Background(), job))

	score := 87.5
	job.State = model.StateCompleted
	job.QualityScore = &score
	job.Destination = model.RouteStaging
	mock.ExpectExec("UPDATE enrichment_jobs").
		WithArgs("job-1", "COMPLETED", &score, "staging", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateJob(context.Background(), job))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE enrichment_jobs").
		WithArgs("job-gone", "COMPLETED", (*float64)(nil), "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJob(context.Background(), &model.JobRecord{
		ID:    "job-gone",
		State: model.StateCompleted,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	cp := &model.Checkpoint{
		JobID: "job-1",
		Attempts: []model.TierAttempt{
			{Tier: source.TierCatalog, Outcome: "not_found"},
			{Tier: source.TierDigiKey, Outcome: "hit", Score: 82},
		},
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO enrichment_checkpoints").
		WithArgs("job-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	payload := `{"job_id":"job-1","attempts":[{"tier":"catalog","outcome":"not_found","duration_ms":0}],"updated_at":"2026-08-29T00:00:00Z"}`
	mock.ExpectQuery("SELECT payload FROM enrichment_checkpoints").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(payload)))

	got, err := s.GetCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, source.TierCatalog, got.Attempts[0].Tier)

	mock.ExpectExec("DELETE FROM enrichment_checkpoints").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, s.DeleteCheckpoint(ctx, "job-1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCheckpointMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload FROM enrichment_checkpoints").
		WithArgs("job-x").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	_, err := s.GetCheckpoint(context.Background(), "job-x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRiskProfileDefaultsWhenMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM risk_profiles").
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"lifecycle_weight"}))

	p, err := s.RiskProfile(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultRiskProfile("org-1"), p)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRiskProfileStored(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM risk_profiles").
		WithArgs("org-2").
		WillReturnRows(pgxmock.NewRows([]string{
			"lifecycle_weight", "supply_chain_weight", "compliance_weight",
			"obsolescence_weight", "single_source_weight", "high_risk_threshold",
		}).AddRow(0.5, 0.2, 0.1, 0.1, 0.1, 80.0))

	p, err := s.RiskProfile(context.Background(), "org-2")
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.LifecycleWeight)
	assert.Equal(t, 80.0, p.HighRiskThreshold)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	expires := time.Now().Add(30 * time.Minute).UTC()

	mock.ExpectExec("INSERT INTO supplier_tokens").
		WithArgs("digikey", "tok-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertToken(context.Background(), source.OAuthToken{
		Supplier:    "digikey",
		AccessToken: "tok-1",
		ExpiresAt:   expires,
	}))

	mock.ExpectQuery("SELECT .+ FROM supplier_tokens").
		WithArgs("digikey").
		WillReturnRows(pgxmock.NewRows([]string{"supplier", "access_token", "expires_at"}).
			AddRow("digikey", "tok-1", expires))

	tok, err := s.GetToken(context.Background(), "digikey")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "tok-1", tok.AccessToken)

	// Missing token is nil, nil so the adapter refreshes.
	mock.ExpectQuery("SELECT .+ FROM supplier_tokens").
		WithArgs("mouser").
		WillReturnRows(pgxmock.NewRows([]string{"supplier", "access_token", "expires_at"}))

	tok, err = s.GetToken(context.Background(), "mouser")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListHistory(t *testing.T) {
	s, mock := newMockStore(t)
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"job_id", "mpn", "manufacturer", "success", "quality_score", "destination",
		"tiers_used", "tier_attempts", "ai_used", "web_scraping_used", "processing_time_ms", "completed_at",
	}).AddRow(
		"job-1", "NE555P", "Texas Instruments", true, 98.0, "production",
		[]string{"catalog"}, []byte(`[{"tier":"catalog","outcome":"hit","score":98}]`),
		false, false, int64(150), completed,
	)

	mock.ExpectQuery("SELECT job_id, mpn, manufacturer, success").
		WithArgs(pgxmock.AnyArg(), 100).
		WillReturnRows(rows)

	results, err := s.ListHistory(context.Background(), completed.Add(-time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "job-1", results[0].JobID)
	assert.Equal(t, model.RouteProduction, results[0].Destination)
	assert.Equal(t, []string{"catalog"}, results[0].TiersUsed)
	require.Len(t, results[0].TierAttempts, 1)
	assert.Equal(t, "hit", results[0].TierAttempts[0].Outcome)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendHistory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO enrichment_history").
		WithArgs("job-1", "NE555P", "Texas Instruments", true, 100.0, "production",
			pgxmock.AnyArg(), pgxmock.AnyArg(), false, false, int64(1200), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendHistory(context.Background(), &model.EnrichmentResult{
		JobID:            "job-1",
		MPN:              "NE555P",
		Manufacturer:     "Texas Instruments",
		Success:          true,
		QualityScore:     100,
		Destination:      model.RouteProduction,
		TiersUsed:        []string{"digikey"},
		ProcessingTimeMS: 1200,
		CompletedAt:      time.Now(),
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
