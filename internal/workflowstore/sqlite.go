package workflowstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/orcerr"
	"github.com/forgeflow/orchestrator/internal/statemachine"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store, grounded on
// graph/store.SQLiteStore: single-file, WAL-mode, one-writer pool
// sized for a single orchestrator process.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewSQLiteStore opens (and migrates, if needed) a SQLite-backed
// Store at path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			issue_id TEXT NOT NULL,
			worktree_path TEXT NOT NULL,
			worktree_name TEXT NOT NULL DEFAULT '',
			profile_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			current_stage TEXT NOT NULL DEFAULT '',
			plan_only INTEGER NOT NULL DEFAULT 0,
			external_plan INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_worktree ON workflows(worktree_path)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_created_id ON workflows(created_at, id)`,
		`CREATE TABLE IF NOT EXISTS workflow_events (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			UNIQUE(workflow_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_workflow_seq ON workflow_events(workflow_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS token_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON token_usage(timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, w domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, w.ID).Scan(&exists); err == nil {
		return &orcerr.WorkflowConflictError{WorktreePath: w.WorktreePath}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check existing: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows
			(id, issue_id, worktree_path, worktree_name, profile_id, status, created_at,
			 started_at, completed_at, failure_reason, current_stage, plan_only, external_plan)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID, w.IssueID, w.WorktreePath, w.WorktreeName, w.ProfileID, string(w.Status),
		w.CreatedAt.Format(time.RFC3339Nano), nullTime(w.StartedAt), nullTime(w.CompletedAt),
		w.FailureReason, w.CurrentStage, boolToInt(w.PlanOnly), boolToInt(w.ExternalPlan),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectWorkflowSQL+` WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: id}
	}
	return w, err
}

func (s *SQLiteStore) GetByWorktree(ctx context.Context, worktreePath string) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectWorkflowSQL+`
		WHERE worktree_path = ? AND status IN ('pending','in_progress','blocked','planning')
		ORDER BY created_at DESC LIMIT 1
	`, worktreePath)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: worktreePath}
	}
	return w, err
}

func (s *SQLiteStore) Update(ctx context.Context, w domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET
			issue_id = ?, worktree_path = ?, worktree_name = ?, profile_id = ?, status = ?,
			started_at = ?, completed_at = ?, failure_reason = ?, current_stage = ?,
			plan_only = ?, external_plan = ?
		WHERE id = ?
	`,
		w.IssueID, w.WorktreePath, w.WorktreeName, w.ProfileID, string(w.Status),
		nullTime(w.StartedAt), nullTime(w.CompletedAt), w.FailureReason, w.CurrentStage,
		boolToInt(w.PlanOnly), boolToInt(w.ExternalPlan), w.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &orcerr.WorkflowNotFoundError{WorkflowID: w.ID}
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status domain.WorkflowStatus, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return &orcerr.WorkflowNotFoundError{WorkflowID: id}
		}
		return fmt.Errorf("read status: %w", err)
	}

	if err := statemachine.ValidateTransition(domain.WorkflowStatus(current), status); err != nil {
		return err
	}

	now := time.Now()
	var startedAt, completedAt interface{}
	switch status {
	case domain.StatusInProgress:
		startedAt = now.Format(time.RFC3339Nano)
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, domain.StatusAborted:
		completedAt = now.Format(time.RFC3339Nano)
	}

	if startedAt != nil {
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), failureReason, startedAt, id)
	} else if completedAt != nil {
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
			string(status), failureReason, completedAt, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ? WHERE id = ?`,
			string(status), failureReason, id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]domain.Workflow, error) {
	return s.ListByStatus(ctx, activeStatuses)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses []domain.WorkflowStatus) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(statuses)
	rows, err := s.db.QueryContext(ctx, selectWorkflowSQL+` WHERE status IN (`+placeholders+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter, limit int, cursor string) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	query := selectWorkflowSQL + ` WHERE 1=1`
	var args []interface{}
	if filter.IssueID != "" {
		query += ` AND issue_id = ?`
		args = append(args, filter.IssueID)
	}
	if filter.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, filter.ProfileID)
	}
	if len(filter.Statuses) > 0 {
		placeholders, statusArgs := inClause(filter.Statuses)
		query += ` AND status IN (` + placeholders + `)`
		args = append(args, statusArgs...)
	}
	if !c.StartedAt.IsZero() || c.ID != "" {
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		ts := c.StartedAt.Format(time.RFC3339Nano)
		args = append(args, ts, ts, c.ID)
	}
	query += ` ORDER BY created_at, id`

	fetchLimit := limit
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, fetchLimit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()
	all, err := scanWorkflows(rows)
	if err != nil {
		return Page{}, err
	}

	hasMore := len(all) > fetchLimit
	if hasMore {
		all = all[:fetchLimit]
	}
	page := Page{Workflows: all}
	if hasMore && len(all) > 0 {
		last := all[len(all)-1]
		next, err := EncodeCursor(Cursor{StartedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return Page{}, err
		}
		page.NextCursor = next
	}
	return page, nil
}

func (s *SQLiteStore) CountActive(ctx context.Context) (int, error) {
	return s.CountByFilter(ctx, Filter{Statuses: activeStatuses})
}

func (s *SQLiteStore) CountByFilter(ctx context.Context, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT COUNT(*) FROM workflows WHERE 1=1`
	var args []interface{}
	if filter.IssueID != "" {
		query += ` AND issue_id = ?`
		args = append(args, filter.IssueID)
	}
	if filter.ProfileID != "" {
		query += ` AND profile_id = ?`
		args = append(args, filter.ProfileID)
	}
	if len(filter.Statuses) > 0 {
		placeholders, statusArgs := inClause(filter.Statuses)
		query += ` AND status IN (` + placeholders + `)`
		args = append(args, statusArgs...)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, event domain.WorkflowEvent) (domain.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ?`, event.WorkflowID).Scan(&maxSeq); err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("read max sequence: %w", err)
	}
	event.Sequence = maxSeq.Int64 + 1

	payloadJSON := ""
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return domain.WorkflowEvent{}, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = string(raw)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_events
			(id, workflow_id, sequence, timestamp, agent, event_type, level, message, payload, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.WorkflowID, event.Sequence, event.Timestamp.Format(time.RFC3339Nano),
		event.Agent, string(event.EventType), string(event.Level), event.Message, payloadJSON, event.CorrelationID,
	)
	if err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("commit: %w", err)
	}
	return event, nil
}

func (s *SQLiteStore) GetMaxEventSequence(ctx context.Context, workflowID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ?`, workflowID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return maxSeq.Int64, nil
}

func (s *SQLiteStore) Events(ctx context.Context, workflowID string, afterSequence int64) ([]domain.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, sequence, timestamp, agent, event_type, level, message, payload, correlation_id
		FROM workflow_events WHERE workflow_id = ? AND sequence > ? ORDER BY sequence
	`, workflowID, afterSequence)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowEvent
	for rows.Next() {
		var (
			e            domain.WorkflowEvent
			ts           string
			eventType    string
			level        string
			payloadJSON  string
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Sequence, &ts, &e.Agent, &eventType, &level, &e.Message, &payloadJSON, &e.CorrelationID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		e.Level = domain.EventLevel(level)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_events WHERE timestamp < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveTokenUsage(ctx context.Context, record domain.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (workflow_id, model, input_tokens, output_tokens, cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.WorkflowID, record.Model, record.InputTokens, record.OutputTokens, record.CostUSD,
		record.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save token usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UsageTrend(ctx context.Context, startDate, endDate time.Time) (UsageTrend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT model, input_tokens, output_tokens, cost_usd, timestamp FROM token_usage
		WHERE timestamp >= ? AND timestamp <= ?
	`, startDate.Format(time.RFC3339Nano), endDate.Format(time.RFC3339Nano))
	if err != nil {
		return UsageTrend{}, fmt.Errorf("usage trend: %w", err)
	}
	defer rows.Close()

	daily := make(map[string]*DailyUsage)
	byModel := make(map[string]*ModelUsage)
	for rows.Next() {
		var (
			model                      string
			inputTokens, outputTokens  int64
			costUSD                    float64
			ts                         string
		)
		if err := rows.Scan(&model, &inputTokens, &outputTokens, &costUSD, &ts); err != nil {
			return UsageTrend{}, fmt.Errorf("scan usage: %w", err)
		}
		timestamp, err := parseTimestamp(ts)
		if err != nil {
			return UsageTrend{}, fmt.Errorf("parse usage timestamp: %w", err)
		}
		day := timestamp.Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailyUsage{Date: day}
			daily[day] = d
		}
		d.InputTokens += inputTokens
		d.OutputTokens += outputTokens
		d.CostUSD += costUSD

		mo, ok := byModel[model]
		if !ok {
			mo = &ModelUsage{Model: model}
			byModel[model] = mo
		}
		mo.InputTokens += inputTokens
		mo.OutputTokens += outputTokens
		mo.CostUSD += costUSD
	}
	if err := rows.Err(); err != nil {
		return UsageTrend{}, err
	}

	trend := UsageTrend{}
	for _, d := range daily {
		trend.Daily = append(trend.Daily, *d)
	}
	for _, mo := range byModel {
		trend.ByModel = append(trend.ByModel, *mo)
	}
	return trend, nil
}

const selectWorkflowSQL = `
	SELECT id, issue_id, worktree_path, worktree_name, profile_id, status, created_at,
		   started_at, completed_at, failure_reason, current_stage, plan_only, external_plan
	FROM workflows
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (domain.Workflow, error) {
	var (
		w                      domain.Workflow
		status                 string
		createdAt              string
		startedAt, completedAt sql.NullString
		planOnly, externalPlan int
	)
	err := row.Scan(&w.ID, &w.IssueID, &w.WorktreePath, &w.WorktreeName, &w.ProfileID, &status, &createdAt,
		&startedAt, &completedAt, &w.FailureReason, &w.CurrentStage, &planOnly, &externalPlan)
	if err != nil {
		return domain.Workflow{}, err
	}
	w.Status = domain.WorkflowStatus(status)
	w.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("parse created_at: %w", err)
	}
	if startedAt.Valid {
		t, err := parseTimestamp(startedAt.String)
		if err != nil {
			return domain.Workflow{}, fmt.Errorf("parse started_at: %w", err)
		}
		w.StartedAt = &t
	}
	if completedAt.Valid {
		t, err := parseTimestamp(completedAt.String)
		if err != nil {
			return domain.Workflow{}, fmt.Errorf("parse completed_at: %w", err)
		}
		w.CompletedAt = &t
	}
	w.PlanOnly = planOnly != 0
	w.ExternalPlan = externalPlan != 0
	return w, nil
}

func scanWorkflows(rows *sql.Rows) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// parseTimestamp parses a timestamp column written by either backend:
// SQLiteStore writes RFC3339Nano; MySQLStore writes MySQL's
// DATETIME(6) text format (see mysqlTimeLayout in mysql.go). scanWorkflow
// is shared by both stores, so it must accept either.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(mysqlTimeLayout, s)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func inClause(statuses []domain.WorkflowStatus) (string, []interface{}) {
	placeholders := ""
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = string(s)
	}
	return placeholders, args
}
