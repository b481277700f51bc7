package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/pkg/model"

	// Database drivers
	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store with a SQL backend. Supports PostgreSQL,
// MySQL, and SQLite via database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", or "sqlite"
}

var _ Store = (*SQLStore)(nil)

// executionRow is the database representation of an AgentExecution.
type executionRow struct {
	ExecutionID   string
	ClaimID       string
	WorkflowType  string
	Status        string
	StartedAt     time.Time
	CompletedAt   time.Time
	DurationMS    int64
	TotalTokens   int
	TotalCost     float64
	AgentsInvoked string // JSON-encoded []string
	AgentSteps    string // JSON-encoded []AgentStepExecution
	FinalResult   string
	ErrorMessage  string
	Evaluation    string // JSON-encoded EvaluationResult, "" when absent
}

// definitionRow is the database representation of an AgentDefinition.
type definitionRow struct {
	Name            string
	Version         string
	Instructions    string
	ModelDeployment string
	Temperature     float64
	Tools           string // JSON-encoded []ToolSpec
	IsActive        bool
	VersionHistory  string // JSON-encoded []AgentVersion
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	// SQL schema (compatible with all three databases)
	createExecutionsSQL = `
CREATE TABLE IF NOT EXISTS executions (
    execution_id VARCHAR(255) PRIMARY KEY,
    claim_id VARCHAR(255) NOT NULL,
    workflow_type VARCHAR(50) NOT NULL,
    status VARCHAR(50) NOT NULL,
    started_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    total_tokens INTEGER NOT NULL,
    total_cost DOUBLE PRECISION NOT NULL,
    agents_invoked TEXT,
    agent_steps TEXT,
    final_result TEXT,
    error_message TEXT,
    evaluation TEXT
)`

	createTokenUsageSQL = `
CREATE TABLE IF NOT EXISTS token_usage (
    record_id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255),
    user_id VARCHAR(255),
    claim_id VARCHAR(255),
    execution_id VARCHAR(255),
    trace_id VARCHAR(255),
    span_id VARCHAR(255),
    service_type VARCHAR(100) NOT NULL,
    operation_type VARCHAR(100) NOT NULL,
    agent_type VARCHAR(100),
    model VARCHAR(255),
    deployment VARCHAR(255),
    prompt_tokens INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL,
    prompt_cost DOUBLE PRECISION NOT NULL,
    completion_cost DOUBLE PRECISION NOT NULL,
    total_cost DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    duration_ms BIGINT NOT NULL,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    estimated BOOLEAN NOT NULL
)`

	createDefinitionsSQL = `
CREATE TABLE IF NOT EXISTS agent_definitions (
    name VARCHAR(255) PRIMARY KEY,
    version VARCHAR(50) NOT NULL,
    instructions TEXT,
    model_deployment VARCHAR(255),
    temperature DOUBLE PRECISION NOT NULL,
    tools TEXT,
    is_active BOOLEAN NOT NULL,
    version_history TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`
)

// schemaIndexes lists secondary indexes created after the tables.
var schemaIndexes = []struct {
	name   string
	table  string
	column string
}{
	{"idx_executions_claim_id", "executions", "claim_id"},
	{"idx_executions_started_at", "executions", "started_at"},
	{"idx_token_usage_claim_id", "token_usage", "claim_id"},
	{"idx_token_usage_agent_type", "token_usage", "agent_type"},
	{"idx_token_usage_recorded_at", "token_usage", "recorded_at"},
}

const executionColumns = `execution_id, claim_id, workflow_type, status, started_at, completed_at, duration_ms, total_tokens, total_cost, agents_invoked, agent_steps, final_result, error_message, evaluation`

const usageColumns = `record_id, session_id, user_id, claim_id, execution_id, trace_id, span_id, service_type, operation_type, agent_type, model, deployment, prompt_tokens, completion_tokens, total_tokens, prompt_cost, completion_cost, total_cost, recorded_at, duration_ms, success, error_message, estimated`

const definitionColumns = `name, version, instructions, model_deployment, temperature, tools, is_active, version_history, created_at, updated_at`

// NewSQLStore creates a SQL-backed store on an open connection and
// initializes the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
		// Valid
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenSQLStore opens a connection for the given driver ("postgres",
// "mysql", or "sqlite") and returns a schema-initialized store. MySQL DSNs
// must set parseTime=true so TIMESTAMP columns scan into time.Time.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	// Config uses "sqlite" but the go-sqlite3 driver registers as "sqlite3"
	driverName := driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, driver)
}

// initSchema creates tables and indexes if they don't exist. MySQL has no
// CREATE INDEX IF NOT EXISTS, so duplicate-index errors are tolerated
// there.
func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{createExecutionsSQL, createTokenUsageSQL, createDefinitionsSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, idx := range schemaIndexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, idx.table, idx.column)
		if s.dialect == "mysql" {
			stmt = fmt.Sprintf("CREATE INDEX %s ON %s(%s)", idx.name, idx.table, idx.column)
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if s.dialect == "mysql" && isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// isDuplicateIndex reports MySQL error 1061 (duplicate key name).
func isDuplicateIndex(err error) bool {
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == 1061
}

// rebind rewrites ? placeholders to $1..$n for the postgres dialect.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveExecution implements Store.
func (s *SQLStore) SaveExecution(ctx context.Context, exec *model.AgentExecution) error {
	if exec == nil || exec.ExecutionID == "" {
		return fmt.Errorf("execution id is required")
	}

	row, err := executionToRow(exec)
	if err != nil {
		return fmt.Errorf("failed to serialize execution: %w", err)
	}

	query := `INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		row.ExecutionID, row.ClaimID, row.WorkflowType, row.Status,
		row.StartedAt, row.CompletedAt, row.DurationMS,
		row.TotalTokens, row.TotalCost,
		row.AgentsInvoked, row.AgentSteps,
		row.FinalResult, row.ErrorMessage, row.Evaluation,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// GetExecution implements Store.
func (s *SQLStore) GetExecution(ctx context.Context, executionID string) (*model.AgentExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE execution_id = ?`

	var row executionRow
	err := s.db.QueryRowContext(ctx, s.rebind(query), executionID).Scan(
		&row.ExecutionID, &row.ClaimID, &row.WorkflowType, &row.Status,
		&row.StartedAt, &row.CompletedAt, &row.DurationMS,
		&row.TotalTokens, &row.TotalCost,
		&row.AgentsInvoked, &row.AgentSteps,
		&row.FinalResult, &row.ErrorMessage, &row.Evaluation,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	return rowToExecution(&row)
}

// ListExecutions implements Store.
func (s *SQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*model.AgentExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var conds []string
	var args []any
	if filter.ClaimID != "" {
		conds = append(conds, "claim_id = ?")
		args = append(args, filter.ClaimID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowType != "" {
		conds = append(conds, "workflow_type = ?")
		args = append(args, filter.WorkflowType)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentExecution
	for rows.Next() {
		var row executionRow
		if err := rows.Scan(
			&row.ExecutionID, &row.ClaimID, &row.WorkflowType, &row.Status,
			&row.StartedAt, &row.CompletedAt, &row.DurationMS,
			&row.TotalTokens, &row.TotalCost,
			&row.AgentsInvoked, &row.AgentSteps,
			&row.FinalResult, &row.ErrorMessage, &row.Evaluation,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		exec, err := rowToExecution(&row)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

// ClaimHistory implements Store.
func (s *SQLStore) ClaimHistory(ctx context.Context, claimID string) ([]*model.AgentExecution, error) {
	return s.ListExecutions(ctx, ExecutionFilter{ClaimID: claimID})
}

// SaveTokenUsage implements Store.
func (s *SQLStore) SaveTokenUsage(ctx context.Context, record *model.TokenUsageRecord) error {
	if record == nil || record.RecordID == "" {
		return fmt.Errorf("record id is required")
	}

	query := `INSERT INTO token_usage (` + usageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		record.RecordID, record.SessionID, record.UserID,
		record.ClaimID, record.ExecutionID, record.TraceID, record.SpanID,
		record.ServiceType, record.OperationType, record.AgentType,
		record.Model, record.Deployment,
		record.PromptTokens, record.CompletionTokens, record.TotalTokens,
		record.PromptCost, record.CompletionCost, record.TotalCost,
		record.Timestamp, record.DurationMS,
		record.Success, record.Error, record.Estimated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token usage: %w", err)
	}
	return nil
}

// TokenUsageByClaim implements Store.
func (s *SQLStore) TokenUsageByClaim(ctx context.Context, claimID string) ([]*model.TokenUsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM token_usage WHERE claim_id = ? ORDER BY recorded_at ASC`
	return s.queryUsage(ctx, s.rebind(query), claimID)
}

// ListTokenUsage implements Store.
func (s *SQLStore) ListTokenUsage(ctx context.Context, filter TokenUsageFilter) ([]*model.TokenUsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM token_usage`
	var conds []string
	var args []any
	if filter.ClaimID != "" {
		conds = append(conds, "claim_id = ?")
		args = append(args, filter.ClaimID)
	}
	if filter.AgentType != "" {
		conds = append(conds, "agent_type = ?")
		args = append(args, filter.AgentType)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, filter.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}
	return s.queryUsage(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryUsage(ctx context.Context, query string, args ...any) ([]*model.TokenUsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var out []*model.TokenUsageRecord
	for rows.Next() {
		var r model.TokenUsageRecord
		if err := rows.Scan(
			&r.RecordID, &r.SessionID, &r.UserID,
			&r.ClaimID, &r.ExecutionID, &r.TraceID, &r.SpanID,
			&r.ServiceType, &r.OperationType, &r.AgentType,
			&r.Model, &r.Deployment,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.PromptCost, &r.CompletionCost, &r.TotalCost,
			&r.Timestamp, &r.DurationMS,
			&r.Success, &r.Error, &r.Estimated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token usage row: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token usage: %w", err)
	}
	return out, nil
}

// SaveAgentDefinition implements Store. Updates the row in place when the
// name already exists.
func (s *SQLStore) SaveAgentDefinition(ctx context.Context, def *model.AgentDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("agent name is required")
	}

	row, err := definitionToRow(def)
	if err != nil {
		return fmt.Errorf("failed to serialize agent definition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := `UPDATE agent_definitions SET version = ?, instructions = ?, model_deployment = ?, temperature = ?, tools = ?, is_active = ?, version_history = ?, updated_at = ? WHERE name = ?`
	res, err := tx.ExecContext(ctx, s.rebind(update),
		row.Version, row.Instructions, row.ModelDeployment, row.Temperature,
		row.Tools, row.IsActive, row.VersionHistory, row.UpdatedAt, row.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent definition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		insert := `INSERT INTO agent_definitions (` + definitionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, s.rebind(insert),
			row.Name, row.Version, row.Instructions, row.ModelDeployment,
			row.Temperature, row.Tools, row.IsActive, row.VersionHistory,
			row.CreatedAt, row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert agent definition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit agent definition: %w", err)
	}
	return nil
}

// GetAgentDefinition implements Store.
func (s *SQLStore) GetAgentDefinition(ctx context.Context, name string) (*model.AgentDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM agent_definitions WHERE name = ?`

	var row definitionRow
	err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(
		&row.Name, &row.Version, &row.Instructions, &row.ModelDeployment,
		&row.Temperature, &row.Tools, &row.IsActive, &row.VersionHistory,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent definition %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent definition: %w", err)
	}
	return rowToDefinition(&row)
}

// ListAgentDefinitions implements Store.
func (s *SQLStore) ListAgentDefinitions(ctx context.Context, filter DefinitionFilter) ([]*model.AgentDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM agent_definitions`
	var args []any
	if filter.ActiveOnly {
		query += " WHERE is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY name ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent definitions: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentDefinition
	for rows.Next() {
		var row definitionRow
		if err := rows.Scan(
			&row.Name, &row.Version, &row.Instructions, &row.ModelDeployment,
			&row.Temperature, &row.Tools, &row.IsActive, &row.VersionHistory,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent definition row: %w", err)
		}
		def, err := rowToDefinition(&row)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize agent definition: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent definitions: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// executionToRow converts an AgentExecution to a database row.
func executionToRow(exec *model.AgentExecution) (*executionRow, error) {
	agentsInvoked, err := json.Marshal(exec.AgentsInvoked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agents_invoked: %w", err)
	}
	steps, err := json.Marshal(exec.AgentSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent_steps: %w", err)
	}
	evaluation := ""
	if exec.Evaluation != nil {
		data, err := json.Marshal(exec.Evaluation)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal evaluation: %w", err)
		}
		evaluation = string(data)
	}

	return &executionRow{
		ExecutionID:   exec.ExecutionID,
		ClaimID:       exec.ClaimID,
		WorkflowType:  exec.WorkflowType,
		Status:        string(exec.Status),
		StartedAt:     exec.StartedAt,
		CompletedAt:   exec.CompletedAt,
		DurationMS:    exec.DurationMS,
		TotalTokens:   exec.TotalTokens,
		TotalCost:     exec.TotalCost,
		AgentsInvoked: string(agentsInvoked),
		AgentSteps:    string(steps),
		FinalResult:   exec.FinalResult,
		ErrorMessage:  exec.ErrorMessage,
		Evaluation:    evaluation,
	}, nil
}

// rowToExecution converts a database row to an AgentExecution.
func rowToExecution(row *executionRow) (*model.AgentExecution, error) {
	exec := &model.AgentExecution{
		ExecutionID:  row.ExecutionID,
		ClaimID:      row.ClaimID,
		WorkflowType: row.WorkflowType,
		Status:       model.ExecutionStatus(row.Status),
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
		DurationMS:   row.DurationMS,
		TotalTokens:  row.TotalTokens,
		TotalCost:    row.TotalCost,
		FinalResult:  row.FinalResult,
		ErrorMessage: row.ErrorMessage,
	}

	if row.AgentsInvoked != "" && row.AgentsInvoked != "null" {
		if err := json.Unmarshal([]byte(row.AgentsInvoked), &exec.AgentsInvoked); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agents_invoked: %w", err)
		}
	}
	if row.AgentSteps != "" && row.AgentSteps != "null" {
		if err := json.Unmarshal([]byte(row.AgentSteps), &exec.AgentSteps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent_steps: %w", err)
		}
	}
	if row.Evaluation != "" && row.Evaluation != "null" {
		var ev model.EvaluationResult
		if err := json.Unmarshal([]byte(row.Evaluation), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
		}
		exec.Evaluation = &ev
	}
	return exec, nil
}

// definitionToRow converts an AgentDefinition to a database row.
func definitionToRow(def *model.AgentDefinition) (*definitionRow, error) {
	tools, err := json.Marshal(def.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools: %w", err)
	}
	history, err := json.Marshal(def.VersionHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal version_history: %w", err)
	}

	return &definitionRow{
		Name:            def.Name,
		Version:         def.Version,
		Instructions:    def.Instructions,
		ModelDeployment: def.ModelDeployment,
		Temperature:     def.Temperature,
		Tools:           string(tools),
		IsActive:        def.IsActive,
		VersionHistory:  string(history),
		CreatedAt:       def.CreatedAt,
		UpdatedAt:       def.UpdatedAt,
	}, nil
}

// rowToDefinition converts a database row to an AgentDefinition.
func rowToDefinition(row *definitionRow) (*model.AgentDefinition, error) {
	def := &model.AgentDefinition{
		Name:            row.Name,
		Version:         row.Version,
		Instructions:    row.Instructions,
		ModelDeployment: row.ModelDeployment,
		Temperature:     row.Temperature,
		IsActive:        row.IsActive,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}

	if row.Tools != "" && row.Tools != "null" {
		if err := json.Unmarshal([]byte(row.Tools), &def.Tools); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tools: %w", err)
		}
	}
	if row.VersionHistory != "" && row.VersionHistory != "null" {
		if err := json.Unmarshal([]byte(row.VersionHistory), &def.VersionHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version_history: %w", err)
		}
	}
	return def, nil
}
