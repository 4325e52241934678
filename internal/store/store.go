// Package store persists processed calls and aggregates KPI metrics in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/callpilot/protofill/internal/transcript"
)

// Store wraps the call log database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the call log at the given path and initializes the
// schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT UNIQUE NOT NULL,
		campaign_id TEXT,
		agent_id TEXT,
		candidate_name TEXT,
		company_name TEXT,
		campaign_role_title TEXT,
		call_duration_minutes REAL,
		cost_cents INTEGER,
		termination_reason TEXT,
		call_successful INTEGER,
		is_qualified INTEGER,
		failed_criteria TEXT,
		call_timestamp DATETIME,
		processed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_calls_campaign_id ON calls(campaign_id);
	CREATE INDEX IF NOT EXISTS idx_calls_is_qualified ON calls(is_qualified);
	CREATE INDEX IF NOT EXISTS idx_calls_call_timestamp ON calls(call_timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CallRecord is one row of the call log.
type CallRecord struct {
	ID                  int64
	ConversationID      string
	CampaignID          string
	AgentID             string
	CandidateName       string
	CompanyName         string
	CampaignRoleTitle   string
	CallDurationMinutes float64
	CostCents           int
	TerminationReason   string
	CallSuccessful      bool
	IsQualified         *bool
	FailedCriteria      string
	CallTimestamp       time.Time
}

// LogCall inserts or updates the record for a processed call. Reprocessing
// the same conversation refreshes the qualification verdict.
func (s *Store) LogCall(
	ctx context.Context,
	meta *transcript.Metadata,
	isQualified *bool,
	failedCriteria []string,
) (int64, error) {
	if meta == nil || meta.ConversationID == "" {
		return 0, fmt.Errorf("missing conversation id")
	}

	durationMinutes := float64(meta.CallDurationSecs) / 60

	var callTimestamp any
	if meta.StartTimeUnixSecs > 0 {
		callTimestamp = time.Unix(meta.StartTimeUnixSecs, 0).UTC()
	}

	var failed any
	if isQualified != nil && !*isQualified && len(failedCriteria) > 0 {
		failed = strings.Join(failedCriteria, ", ")
	}

	var qualified any
	if isQualified != nil {
		qualified = *isQualified
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (
			conversation_id, campaign_id, agent_id, candidate_name,
			company_name, campaign_role_title, call_duration_minutes,
			cost_cents, termination_reason, call_successful,
			is_qualified, failed_criteria, call_timestamp, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			is_qualified = excluded.is_qualified,
			failed_criteria = excluded.failed_criteria,
			processed_at = excluded.processed_at
	`,
		meta.ConversationID,
		meta.CampaignID,
		meta.AgentID,
		meta.CandidateName,
		meta.CompanyName,
		meta.CampaignRoleTitle,
		durationMinutes,
		meta.CostCents,
		meta.TerminationReason,
		meta.CallSuccessful == "success",
		qualified,
		failed,
		callTimestamp,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("log call: %w", err)
	}
	return res.LastInsertId()
}

// Call fetches one record by conversation id.
func (s *Store) Call(ctx context.Context, conversationID string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, campaign_id, agent_id, candidate_name,
		       company_name, campaign_role_title, call_duration_minutes,
		       cost_cents, termination_reason, call_successful,
		       is_qualified, failed_criteria, call_timestamp
		FROM calls WHERE conversation_id = ?
	`, conversationID)

	var rec CallRecord
	var qualified sql.NullBool
	var failed sql.NullString
	var ts sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.ConversationID, &rec.CampaignID, &rec.AgentID,
		&rec.CandidateName, &rec.CompanyName, &rec.CampaignRoleTitle,
		&rec.CallDurationMinutes, &rec.CostCents, &rec.TerminationReason,
		&rec.CallSuccessful, &qualified, &failed, &ts,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch call %s: %w", conversationID, err)
	}
	if qualified.Valid {
		rec.IsQualified = &qualified.Bool
	}
	rec.FailedCriteria = failed.String
	if ts.Valid {
		rec.CallTimestamp = ts.Time
	}
	return &rec, nil
}

// RecentCalls returns the latest processed calls, newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, campaign_id, agent_id, candidate_name,
		       company_name, campaign_role_title, call_duration_minutes,
		       cost_cents, termination_reason, call_successful,
		       is_qualified, failed_criteria, call_timestamp
		FROM calls ORDER BY processed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent calls: %w", err)
	}
	defer rows.Close()

	var records []CallRecord
	for rows.Next() {
		var rec CallRecord
		var qualified sql.NullBool
		var failed sql.NullString
		var ts sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.ConversationID, &rec.CampaignID, &rec.AgentID,
			&rec.CandidateName, &rec.CompanyName, &rec.CampaignRoleTitle,
			&rec.CallDurationMinutes, &rec.CostCents, &rec.TerminationReason,
			&rec.CallSuccessful, &qualified, &failed, &ts,
		); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		if qualified.Valid {
			rec.IsQualified = &qualified.Bool
		}
		rec.FailedCriteria = failed.String
		if ts.Valid {
			rec.CallTimestamp = ts.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// KPISummary aggregates call metrics, optionally filtered to one campaign.
type KPISummary struct {
	TotalCalls         int     `json:"total_calls"`
	SuccessfulCalls    int     `json:"successful_calls"`
	QualifiedCount     int     `json:"qualified_count"`
	NotQualifiedCount  int     `json:"not_qualified_count"`
	QualificationRate  float64 `json:"qualification_rate"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
	TotalCostCents     int     `json:"total_cost_cents"`
}

// KPIs computes the summary. An empty campaignID aggregates all calls.
func (s *Store) KPIs(ctx context.Context, campaignID string) (*KPISummary, error) {
	where := ""
	var args []any
	if campaignID != "" {
		where = "WHERE campaign_id = ?"
		args = []any{campaignID}
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN call_successful THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_qualified = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_qualified = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(call_duration_minutes), 0),
			COALESCE(SUM(cost_cents), 0)
		FROM calls %s
	`, where), args...)

	var k KPISummary
	if err := row.Scan(
		&k.TotalCalls, &k.SuccessfulCalls, &k.QualifiedCount,
		&k.NotQualifiedCount, &k.AvgDurationMinutes, &k.TotalCostCents,
	); err != nil {
		return nil, fmt.Errorf("aggregate kpis: %w", err)
	}

	evaluated := k.QualifiedCount + k.NotQualifiedCount
	if evaluated > 0 {
		k.QualificationRate = float64(k.QualifiedCount) / float64(evaluated)
	}
	return &k, nil
}
