package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/source"
)

// DB is the subset of pgxpool.Pool the postgres store uses. pgxmock
// satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates the production store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}
	return pool, nil
}

const upsertComponentSQL = `INSERT INTO catalog_components
	(catalog_key, mpn, manufacturer, category, description, datasheet_url, lifecycle,
	 unit_price, stock_qty, lead_time_days, supplier_count,
	 rohs_compliant, reach_compliant, aec_qualified, extracted_specs, source, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (catalog_key) DO UPDATE SET
	category = EXCLUDED.category,
	description = EXCLUDED.description,
	datasheet_url = EXCLUDED.datasheet_url,
	lifecycle = EXCLUDED.lifecycle,
	unit_price = EXCLUDED.unit_price,
	stock_qty = EXCLUDED.stock_qty,
	lead_time_days = EXCLUDED.lead_time_days,
	supplier_count = EXCLUDED.supplier_count,
	rohs_compliant = EXCLUDED.rohs_compliant,
	reach_compliant = EXCLUDED.reach_compliant,
	aec_qualified = EXCLUDED.aec_qualified,
	extracted_specs = EXCLUDED.extracted_specs,
	source = EXCLUDED.source,
	updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) UpsertComponent(ctx context.Context, c *model.CanonicalComponent) error {
	specs, err := json.Marshal(c.ExtractedSpecs)
	if err != nil {
		return eris.Wrap(err, "store: marshal specs")
	}
	key := normalize.CatalogKey(c.MPN, c.Manufacturer)

	_, err = s.db.Exec(ctx, upsertComponentSQL,
		key, c.MPN, c.Manufacturer, c.Category, c.Description, c.DatasheetURL,
		string(c.Lifecycle), c.UnitPrice, c.StockQty, c.LeadTimeDays, c.SupplierCount,
		c.RoHSCompliant, c.REACHCompliant, c.AECQualified, specs, c.Source,
		c.NormalizedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: upsert component")
	}
	return nil
}

const getComponentSQL = `SELECT mpn, manufacturer, category, description, datasheet_url, lifecycle,
	unit_price, stock_qty, lead_time_days, supplier_count,
	rohs_compliant, reach_compliant, aec_qualified, extracted_specs, source, updated_at
FROM catalog_components WHERE catalog_key = $1`

func (s *PostgresStore) GetComponent(ctx context.Context, mpn, manufacturer string) (*model.CanonicalComponent, error) {
	var (
		c         model.CanonicalComponent
		lifecycle string
		specsJSON []byte
	)
	err := s.db.QueryRow(ctx, getComponentSQL, normalize.CatalogKey(mpn, manufacturer)).Scan(
		&c.MPN, &c.Manufacturer, &c.Category, &c.Description, &c.DatasheetURL, &lifecycle,
		&c.UnitPrice, &c.StockQty, &c.LeadTimeDays, &c.SupplierCount,
		&c.RoHSCompliant, &c.REACHCompliant, &c.AECQualified, &specsJSON, &c.Source,
		&c.NormalizedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get component")
	}
	c.Lifecycle = model.LifecycleStatus(lifecycle)
	if len(specsJSON) > 0 {
		if err := json.Unmarshal(specsJSON, &c.ExtractedSpecs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal specs")
		}
	}
	return &c, nil
}

const createJobSQL = `INSERT INTO enrichment_jobs
	(id, org_id, mpn, manufacturer, trigger_source, priority, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.JobRecord) error {
	_, err := s.db.Exec(ctx, createJobSQL,
		job.ID, job.OrgID, job.MPN, job.Manufacturer,
		string(job.Trigger), string(job.Priority), string(job.State),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: create job")
	}
	return nil
}

const updateJobSQL = `UPDATE enrichment_jobs
SET state = $2, quality_score = $3, destination = $4, error = $5, updated_at = $6
WHERE id = $1`

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.JobRecord) error {
	tag, err := s.db.Exec(ctx, updateJobSQL,
		job.ID, string(job.State), job.QualityScore, string(job.Destination),
		job.Error, job.UpdatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: update job")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const getJobSQL = `SELECT id, org_id, mpn, manufacturer, trigger_source, priority, state,
	quality_score, destination, error, created_at, updated_at
FROM enrichment_jobs WHERE id = $1`

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	job, err := scanJob(s.db.QueryRow(ctx, getJobSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get job")
	}
	return job, nil
}

const listJobsSQL = `SELECT id, org_id, mpn, manufacturer, trigger_source, priority, state,
	quality_score, destination, error, created_at, updated_at
FROM enrichment_jobs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`

func (s *PostgresStore) ListJobs(ctx context.Context, orgID string, limit int) ([]*model.JobRecord, error) {
	rows, err := s.db.Query(ctx, listJobsSQL, orgID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: list jobs rows")
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*model.JobRecord, error) {
	var (
		job         model.JobRecord
		trigger     string
		priority    string
		state       string
		destination *string
	)
	err := row.Scan(&job.ID, &job.OrgID, &job.MPN, &job.Manufacturer,
		&trigger, &priority, &state,
		&job.QualityScore, &destination, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Trigger = model.TriggerSource(trigger)
	job.Priority = model.Priority(priority)
	job.State = model.JobState(state)
	if destination != nil {
		job.Destination = model.RoutingDestination(*destination)
	}
	return &job, nil
}

const appendHistorySQL = `INSERT INTO enrichment_history
	(job_id, mpn, manufacturer, success, quality_score, destination,
	 tiers_used, tier_attempts, ai_used, web_scraping_used, processing_time_ms, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *PostgresStore) AppendHistory(ctx context.Context, result *model.EnrichmentResult) error {
	attempts, err := json.Marshal(result.TierAttempts)
	if err != nil {
		return eris.Wrap(err, "store: marshal tier attempts")
	}
	_, err = s.db.Exec(ctx, appendHistorySQL,
		result.JobID, result.MPN, result.Manufacturer, result.Success,
		result.QualityScore, string(result.Destination),
		result.TiersUsed, attempts, result.AIUsed, result.WebScrapingUsed,
		result.ProcessingTimeMS, result.CompletedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: append history")
	}
	return nil
}

const listHistorySQL = `SELECT job_id, mpn, manufacturer, success, quality_score, destination,
	tiers_used, tier_attempts, ai_used, web_scraping_used, processing_time_ms, completed_at
FROM enrichment_history WHERE completed_at >= $1
ORDER BY completed_at DESC LIMIT $2`

func (s *PostgresStore) ListHistory(ctx context.Context, since time.Time, limit int) ([]*model.EnrichmentResult, error) {
	rows, err := s.db.Query(ctx, listHistorySQL, since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list history")
	}
	defer rows.Close()

	var results []*model.EnrichmentResult
	for rows.Next() {
		var (
			r           model.EnrichmentResult
			destination string
			attempts    []byte
		)
		err := rows.Scan(&r.JobID, &r.MPN, &r.Manufacturer, &r.Success, &r.QualityScore,
			&destination, &r.TiersUsed, &attempts, &r.AIUsed, &r.WebScrapingUsed,
			&r.ProcessingTimeMS, &r.CompletedAt)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan history row")
		}
		r.Destination = model.RoutingDestination(destination)
		if len(attempts) > 0 {
			if err := json.Unmarshal(attempts, &r.TierAttempts); err != nil {
				return nil, eris.Wrap(err, "store: unmarshal tier attempts")
			}
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: iterate history")
	}
	return results, nil
}

const saveCheckpointSQL = `INSERT INTO enrichment_checkpoints (job_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "store: marshal checkpoint")
	}
	if _, err := s.db.Exec(ctx, saveCheckpointSQL, cp.JobID, payload, cp.UpdatedAt.UTC()); err != nil {
		return eris.Wrap(err, "store: save checkpoint")
	}
	return nil
}

const getCheckpointSQL = `SELECT payload FROM enrichment_checkpoints WHERE job_id = $1`

func (s *PostgresStore) GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, getCheckpointSQL, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "store: checkpoint %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get checkpoint")
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM enrichment_checkpoints WHERE job_id = $1`, jobID); err != nil {
		return eris.Wrap(err, "store: delete checkpoint")
	}
	return nil
}

const riskProfileSQL = `SELECT lifecycle_weight, supply_chain_weight, compliance_weight,
	obsolescence_weight, single_source_weight, high_risk_threshold
FROM risk_profiles WHERE org_id = $1`

// RiskProfile loads the organization's weights, falling back to the
// documented defaults when no row exists.
func (s *PostgresStore) RiskProfile(ctx context.Context, orgID string) (model.RiskProfile, error) {
	p := model.RiskProfile{OrgID: orgID}
	err := s.db.QueryRow(ctx, riskProfileSQL, orgID).Scan(
		&p.LifecycleWeight, &p.SupplyChainWeight, &p.ComplianceWeight,
		&p.ObsolescenceWeight, &p.SingleSourceWeight, &p.HighRiskThreshold,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultRiskProfile(orgID), nil
	}
	if err != nil {
		return model.RiskProfile{}, eris.Wrap(err, "store: risk profile")
	}
	return p, nil
}

const saveRiskProfileSQL = `INSERT INTO risk_profiles
	(org_id, lifecycle_weight, supply_chain_weight, compliance_weight,
	 obsolescence_weight, single_source_weight, high_risk_threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (org_id) DO UPDATE SET
	lifecycle_weight = EXCLUDED.lifecycle_weight,
	supply_chain_weight = EXCLUDED.supply_chain_weight,
	compliance_weight = EXCLUDED.compliance_weight,
	obsolescence_weight = EXCLUDED.obsolescence_weight,
	single_source_weight = EXCLUDED.single_source_weight,
	high_risk_threshold = EXCLUDED.high_risk_threshold`

func (s *PostgresStore) SaveRiskProfile(ctx context.Context, p model.RiskProfile) error {
	_, err := s.db.Exec(ctx, saveRiskProfileSQL,
		p.OrgID, p.LifecycleWeight, p.SupplyChainWeight, p.ComplianceWeight,
		p.ObsolescenceWeight, p.SingleSourceWeight, p.HighRiskThreshold)
	if err != nil {
		return eris.Wrap(err, "store: save risk profile")
	}
	return nil
}

const getTokenSQL = `SELECT supplier, access_token, expires_at FROM supplier_tokens WHERE supplier = $1`

func (s *PostgresStore) GetToken(ctx context.Context, supplier string) (*source.OAuthToken, error) {
	var t source.OAuthToken
	err := s.db.QueryRow(ctx, getTokenSQL, supplier).Scan(&t.Supplier, &t.AccessToken, &t.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get token")
	}
	return &t, nil
}

const upsertTokenSQL = `INSERT INTO supplier_tokens (supplier, access_token, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (supplier) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	expires_at = EXCLUDED.expires_at,
	updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) UpsertToken(ctx context.Context, token source.OAuthToken) error {
	_, err := s.db.Exec(ctx, upsertTokenSQL,
		token.Supplier, token.AccessToken, token.ExpiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "store: upsert token")
	}
	return nil
}
