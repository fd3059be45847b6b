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

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Store, grounded on
// graph/store.MySQLStore's pooled-connection shape, for multi-worker
// production deployments where SQLiteStore's single-writer connection
// would serialize every orchestrator process onto one file.
type MySQLStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// mysqlTimeLayout formats timestamps the way MySQL's DATETIME(6)
// columns expect (not RFC3339: no "T" separator, no zone suffix) —
// go-sql-driver/mysql sends bound string parameters to the server
// as-is rather than converting Go time.Time values itself.
const mysqlTimeLayout = "2006-01-02 15:04:05.000000"

func mysqlTime(t time.Time) string {
	return t.UTC().Format(mysqlTimeLayout)
}

func mysqlParseTime(s string) (time.Time, error) {
	return time.Parse(mysqlTimeLayout, s)
}

func mysqlNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return mysqlTime(*t)
}

// NewMySQLStore opens a MySQL-backed Store for the given DSN (see
// github.com/go-sql-driver/mysql for DSN format) and migrates the
// schema if needed.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(64) PRIMARY KEY,
			issue_id VARCHAR(255) NOT NULL,
			worktree_path VARCHAR(1024) NOT NULL,
			worktree_name VARCHAR(255) NOT NULL DEFAULT '',
			profile_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			failure_reason TEXT NOT NULL,
			current_stage VARCHAR(255) NOT NULL DEFAULT '',
			plan_only TINYINT(1) NOT NULL DEFAULT 0,
			external_plan TINYINT(1) NOT NULL DEFAULT 0,
			INDEX idx_worktree (worktree_path(255)),
			INDEX idx_status (status),
			INDEX idx_created_id (created_at, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS workflow_events (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			sequence BIGINT NOT NULL,
			timestamp DATETIME(6) NOT NULL,
			agent VARCHAR(255) NOT NULL DEFAULT '',
			event_type VARCHAR(64) NOT NULL,
			level VARCHAR(16) NOT NULL,
			message TEXT NOT NULL,
			payload JSON NULL,
			correlation_id VARCHAR(255) NOT NULL DEFAULT '',
			UNIQUE KEY unique_workflow_seq (workflow_id, sequence),
			INDEX idx_events_workflow_seq (workflow_id, sequence)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS token_usage (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			model VARCHAR(255) NOT NULL,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			cost_usd DOUBLE NOT NULL,
			timestamp DATETIME(6) NOT NULL,
			INDEX idx_usage_timestamp (timestamp)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func (m *MySQLStore) Close() error {
	return m.db.Close()
}

func (m *MySQLStore) Create(ctx context.Context, w domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
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
		mysqlTime(w.CreatedAt), mysqlNullTime(w.StartedAt), mysqlNullTime(w.CompletedAt),
		w.FailureReason, w.CurrentStage, boolToInt(w.PlanOnly), boolToInt(w.ExternalPlan),
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLStore) Get(ctx context.Context, id string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, selectWorkflowSQL+` WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: id}
	}
	return w, err
}

func (m *MySQLStore) GetByWorktree(ctx context.Context, worktreePath string) (domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.QueryRowContext(ctx, selectWorkflowSQL+`
		WHERE worktree_path = ? AND status IN ('pending','in_progress','blocked','planning')
		ORDER BY created_at DESC LIMIT 1
	`, worktreePath)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return domain.Workflow{}, &orcerr.WorkflowNotFoundError{WorkflowID: worktreePath}
	}
	return w, err
}

func (m *MySQLStore) Update(ctx context.Context, w domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx, `
		UPDATE workflows SET
			issue_id = ?, worktree_path = ?, worktree_name = ?, profile_id = ?, status = ?,
			started_at = ?, completed_at = ?, failure_reason = ?, current_stage = ?,
			plan_only = ?, external_plan = ?
		WHERE id = ?
	`,
		w.IssueID, w.WorktreePath, w.WorktreeName, w.ProfileID, string(w.Status),
		mysqlNullTime(w.StartedAt), mysqlNullTime(w.CompletedAt), w.FailureReason, w.CurrentStage,
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

func (m *MySQLStore) SetStatus(ctx context.Context, id string, status domain.WorkflowStatus, failureReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
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

	now := mysqlTime(time.Now())
	switch status {
	case domain.StatusInProgress:
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			string(status), failureReason, now, id)
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, domain.StatusAborted:
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ?, completed_at = ? WHERE id = ?`,
			string(status), failureReason, now, id)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE workflows SET status = ?, failure_reason = ? WHERE id = ?`,
			string(status), failureReason, id)
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLStore) ListActive(ctx context.Context) ([]domain.Workflow, error) {
	return m.ListByStatus(ctx, activeStatuses)
}

func (m *MySQLStore) ListByStatus(ctx context.Context, statuses []domain.WorkflowStatus) ([]domain.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(statuses)
	rows, err := m.db.QueryContext(ctx, selectWorkflowSQL+` WHERE status IN (`+placeholders+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func (m *MySQLStore) List(ctx context.Context, filter Filter, limit int, cursor string) (Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

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
		ts := mysqlTime(c.StartedAt)
		args = append(args, ts, ts, c.ID)
	}
	query += ` ORDER BY created_at, id`

	fetchLimit := limit
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, fetchLimit+1)

	rows, err := m.db.QueryContext(ctx, query, args...)
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

func (m *MySQLStore) CountActive(ctx context.Context) (int, error) {
	return m.CountByFilter(ctx, Filter{Statuses: activeStatuses})
}

func (m *MySQLStore) CountByFilter(ctx context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

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
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (m *MySQLStore) SaveEvent(ctx context.Context, event domain.WorkflowEvent) (domain.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ?`, event.WorkflowID).Scan(&maxSeq); err != nil {
		return domain.WorkflowEvent{}, fmt.Errorf("read max sequence: %w", err)
	}
	event.Sequence = maxSeq.Int64 + 1

	var payloadJSON sql.NullString
	if event.Payload != nil {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return domain.WorkflowEvent{}, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_events
			(id, workflow_id, sequence, timestamp, agent, event_type, level, message, payload, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.WorkflowID, event.Sequence, mysqlTime(event.Timestamp),
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

func (m *MySQLStore) GetMaxEventSequence(ctx context.Context, workflowID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxSeq sql.NullInt64
	if err := m.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM workflow_events WHERE workflow_id = ?`, workflowID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return maxSeq.Int64, nil
}

func (m *MySQLStore) Events(ctx context.Context, workflowID string, afterSequence int64) ([]domain.WorkflowEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
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
			e           domain.WorkflowEvent
			ts          string
			eventType   string
			level       string
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Sequence, &ts, &e.Agent, &eventType, &level, &e.Message, &payloadJSON, &e.CorrelationID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, err = mysqlParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		e.Level = domain.EventLevel(level)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *MySQLStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx, `DELETE FROM workflow_events WHERE timestamp < ?`, mysqlTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func (m *MySQLStore) SaveTokenUsage(ctx context.Context, record domain.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO token_usage (workflow_id, model, input_tokens, output_tokens, cost_usd, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, record.WorkflowID, record.Model, record.InputTokens, record.OutputTokens, record.CostUSD,
		mysqlTime(record.Timestamp))
	if err != nil {
		return fmt.Errorf("save token usage: %w", err)
	}
	return nil
}

func (m *MySQLStore) UsageTrend(ctx context.Context, startDate, endDate time.Time) (UsageTrend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `
		SELECT model, input_tokens, output_tokens, cost_usd, timestamp FROM token_usage
		WHERE timestamp >= ? AND timestamp <= ?
	`, mysqlTime(startDate), mysqlTime(endDate))
	if err != nil {
		return UsageTrend{}, fmt.Errorf("usage trend: %w", err)
	}
	defer rows.Close()

	daily := make(map[string]*DailyUsage)
	byModel := make(map[string]*ModelUsage)
	for rows.Next() {
		var (
			model                     string
			inputTokens, outputTokens int64
			costUSD                   float64
			ts                        string
		)
		if err := rows.Scan(&model, &inputTokens, &outputTokens, &costUSD, &ts); err != nil {
			return UsageTrend{}, fmt.Errorf("scan usage: %w", err)
		}
		timestamp, err := mysqlParseTime(ts)
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

var _ Store = (*MySQLStore)(nil)
