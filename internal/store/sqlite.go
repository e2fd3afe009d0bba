package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/partsledger/partsledger/internal/model"
	"github.com/partsledger/partsledger/internal/normalize"
	"github.com/partsledger/partsledger/internal/source"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteStore is the single-node development store. Same Store surface as
// postgres, backed by a local file, no server required.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and bootstraps) a local sqlite database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "store: bootstrap schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertComponent(ctx context.Context, c *model.CanonicalComponent) error {
	specs, err := json.Marshal(c.ExtractedSpecs)
	if err != nil {
		return eris.Wrap(err, "store: marshal specs")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO catalog_components
		(catalog_key, mpn, manufacturer, category, description, datasheet_url, lifecycle,
		 unit_price, stock_qty, lead_time_days, supplier_count,
		 rohs_compliant, reach_compliant, aec_qualified, extracted_specs, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (catalog_key) DO UPDATE SET
			category = excluded.category, description = excluded.description,
			datasheet_url = excluded.datasheet_url, lifecycle = excluded.lifecycle,
			unit_price = excluded.unit_price, stock_qty = excluded.stock_qty,
			lead_time_days = excluded.lead_time_days, supplier_count = excluded.supplier_count,
			rohs_compliant = excluded.rohs_compliant, reach_compliant = excluded.reach_compliant,
			aec_qualified = excluded.aec_qualified, extracted_specs = excluded.extracted_specs,
			source = excluded.source, updated_at = excluded.updated_at`,
		normalize.CatalogKey(c.MPN, c.Manufacturer), c.MPN, c.Manufacturer,
		c.Category, c.Description, c.DatasheetURL, string(c.Lifecycle),
		c.UnitPrice, c.StockQty, c.LeadTimeDays, c.SupplierCount,
		boolPtrInt(c.RoHSCompliant), boolPtrInt(c.REACHCompliant), boolPtrInt(c.AECQualified),
		string(specs), c.Source, c.NormalizedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: upsert component")
	}
	return nil
}

func (s *SQLiteStore) GetComponent(ctx context.Context, mpn, manufacturer string) (*model.CanonicalComponent, error) {
	var (
		c         model.CanonicalComponent
		lifecycle string
		rohs      *int64
		reach     *int64
		aec       *int64
		specsJSON string
	)
	err := s.db.QueryRowContext(ctx, `SELECT mpn, manufacturer, category, description,
		datasheet_url, lifecycle, unit_price, stock_qty, lead_time_days, supplier_count,
		rohs_compliant, reach_compliant, aec_qualified, extracted_specs, source, updated_at
		FROM catalog_components WHERE catalog_key = ?`,
		normalize.CatalogKey(mpn, manufacturer)).Scan(
		&c.MPN, &c.Manufacturer, &c.Category, &c.Description, &c.DatasheetURL, &lifecycle,
		&c.UnitPrice, &c.StockQty, &c.LeadTimeDays, &c.SupplierCount,
		&rohs, &reach, &aec, &specsJSON, &c.Source, &c.NormalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get component")
	}
	c.Lifecycle = model.LifecycleStatus(lifecycle)
	c.RoHSCompliant = intPtrBool(rohs)
	c.REACHCompliant = intPtrBool(reach)
	c.AECQualified = intPtrBool(aec)
	if specsJSON != "" {
		if err := json.Unmarshal([]byte(specsJSON), &c.ExtractedSpecs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal specs")
		}
	}
	return &c, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO enrichment_jobs
		(id, org_id, mpn, manufacturer, trigger_source, priority, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, job.OrgID, job.MPN, job.Manufacturer,
		string(job.Trigger), string(job.Priority), string(job.State),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: create job")
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.JobRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE enrichment_jobs
		SET state = ?, quality_score = ?, destination = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		string(job.State), job.QualityScore, string(job.Destination),
		job.Error, job.UpdatedAt.UTC(), job.ID)
	if err != nil {
		return eris.Wrap(err, "store: update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, org_id, mpn, manufacturer, trigger_source,
		priority, state, quality_score, destination, error, created_at, updated_at
		FROM enrichment_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get job")
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, orgID string, limit int) ([]*model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, org_id, mpn, manufacturer, trigger_source,
		priority, state, quality_score, destination, error, created_at, updated_at
		FROM enrichment_jobs WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list jobs")
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		job, err := scanSQLiteJob(rows.Scan)
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

func scanSQLiteJob(scan func(dest ...any) error) (*model.JobRecord, error) {
	var (
		job         model.JobRecord
		trigger     string
		priority    string
		state       string
		destination *string
	)
	err := scan(&job.ID, &job.OrgID, &job.MPN, &job.Manufacturer,
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

func (s *SQLiteStore) AppendHistory(ctx context.Context, result *model.EnrichmentResult) error {
	attempts, err := json.Marshal(result.TierAttempts)
	if err != nil {
		return eris.Wrap(err, "store: marshal tier attempts")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO enrichment_history
		(job_id, mpn, manufacturer, success, quality_score, destination,
		 tiers_used, tier_attempts, ai_used, web_scraping_used, processing_time_ms, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.JobID, result.MPN, result.Manufacturer, result.Success,
		result.QualityScore, string(result.Destination),
		strings.Join(result.TiersUsed, ","), string(attempts),
		result.AIUsed, result.WebScrapingUsed, result.ProcessingTimeMS,
		result.CompletedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: append history")
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, since time.Time, limit int) ([]*model.EnrichmentResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, mpn, manufacturer, success, quality_score,
		destination, tiers_used, tier_attempts, ai_used, web_scraping_used, processing_time_ms, completed_at
		FROM enrichment_history WHERE completed_at >= ?
		ORDER BY completed_at DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list history")
	}
	defer rows.Close()

	var results []*model.EnrichmentResult
	for rows.Next() {
		var (
			r           model.EnrichmentResult
			destination string
			tiers       string
			attempts    string
		)
		err := rows.Scan(&r.JobID, &r.MPN, &r.Manufacturer, &r.Success, &r.QualityScore,
			&destination, &tiers, &attempts, &r.AIUsed, &r.WebScrapingUsed,
			&r.ProcessingTimeMS, &r.CompletedAt)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan history row")
		}
		r.Destination = model.RoutingDestination(destination)
		if tiers != "" {
			r.TiersUsed = strings.Split(tiers, ",")
		}
		if attempts != "" {
			if err := json.Unmarshal([]byte(attempts), &r.TierAttempts); err != nil {
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

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "store: marshal checkpoint")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO enrichment_checkpoints (job_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			payload = excluded.payload, updated_at = excluded.updated_at`,
		cp.JobID, string(payload), cp.UpdatedAt.UTC())
	if err != nil {
		return eris.Wrap(err, "store: save checkpoint")
	}
	return nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM enrichment_checkpoints WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "store: checkpoint %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get checkpoint")
	}
	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal checkpoint")
	}
	return &cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_checkpoints WHERE job_id = ?`, jobID); err != nil {
		return eris.Wrap(err, "store: delete checkpoint")
	}
	return nil
}

func (s *SQLiteStore) RiskProfile(ctx context.Context, orgID string) (model.RiskProfile, error) {
	p := model.RiskProfile{OrgID: orgID}
	err := s.db.QueryRowContext(ctx, `SELECT lifecycle_weight, supply_chain_weight,
		compliance_weight, obsolescence_weight, single_source_weight, high_risk_threshold
		FROM risk_profiles WHERE org_id = ?`, orgID).Scan(
		&p.LifecycleWeight, &p.SupplyChainWeight, &p.ComplianceWeight,
		&p.ObsolescenceWeight, &p.SingleSourceWeight, &p.HighRiskThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultRiskProfile(orgID), nil
	}
	if err != nil {
		return model.RiskProfile{}, eris.Wrap(err, "store: risk profile")
	}
	return p, nil
}

func (s *SQLiteStore) SaveRiskProfile(ctx context.Context, p model.RiskProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO risk_profiles
		(org_id, lifecycle_weight, supply_chain_weight, compliance_weight,
		 obsolescence_weight, single_source_weight, high_risk_threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id) DO UPDATE SET
			lifecycle_weight = excluded.lifecycle_weight,
			supply_chain_weight = excluded.supply_chain_weight,
			compliance_weight = excluded.compliance_weight,
			obsolescence_weight = excluded.obsolescence_weight,
			single_source_weight = excluded.single_source_weight,
			high_risk_threshold = excluded.high_risk_threshold`,
		p.OrgID, p.LifecycleWeight, p.SupplyChainWeight, p.ComplianceWeight,
		p.ObsolescenceWeight, p.SingleSourceWeight, p.HighRiskThreshold)
	if err != nil {
		return eris.Wrap(err, "store: save risk profile")
	}
	return nil
}

func (s *SQLiteStore) GetToken(ctx context.Context, supplier string) (*source.OAuthToken, error) {
	var t source.OAuthToken
	err := s.db.QueryRowContext(ctx,
		`SELECT supplier, access_token, expires_at FROM supplier_tokens WHERE supplier = ?`,
		supplier).Scan(&t.Supplier, &t.AccessToken, &t.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: get token")
	}
	return &t, nil
}

func (s *SQLiteStore) UpsertToken(ctx context.Context, token source.OAuthToken) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO supplier_tokens
		(supplier, access_token, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (supplier) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		token.Supplier, token.AccessToken, token.ExpiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "store: upsert token")
	}
	return nil
}

func boolPtrInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return int64(1)
	}
	return int64(0)
}

func intPtrBool(n *int64) *bool {
	if n == nil {
		return nil
	}
	v := *n != 0
	return &v
}
