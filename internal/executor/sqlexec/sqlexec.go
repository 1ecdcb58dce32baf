// Package sqlexec runs gated, read-only SQL submissions against PostgreSQL.
// Each test case gets its own schema, seeded by the test's setup statements
// and dropped when the session closes.
package sqlexec

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"codexec/internal/executor/result"
	appErr "codexec/pkg/errors"
	"codexec/pkg/utils/logger"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	driverName              = "postgres"
	defaultStatementTimeout = 5 * time.Second
	defaultMaxOpenConns     = 8

	// SQLSTATE query_canceled, raised when statement_timeout fires.
	codeQueryCanceled = "57014"
)

// Config describes the database used for SQL submissions.
type Config struct {
	DSN              string        `yaml:"dsn"`
	StatementTimeout time.Duration `yaml:"statementTimeout"`
	MaxOpenConns     int           `yaml:"maxOpenConns"`
	// SharedRole runs every query as the connecting user instead of a
	// per-test role. Only for databases where that user cannot create roles.
	SharedRole bool `yaml:"sharedRole"`
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Executor owns the connection pool shared by all SQL sessions.
type Executor struct {
	db               *sqlx.DB
	statementTimeout time.Duration
	sessionRoles     bool
}

// New connects to the configured database.
func New(ctx context.Context, cfg Config) (*Executor, error) {
	if !cfg.Enabled() {
		return nil, appErr.New(appErr.NotImplemented).WithMessage("SQL execution is not implemented")
	}
	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ExecutorUnavailable, "connect sql database failed")
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxIdleTime(time.Minute)
	e := NewWithDB(db, cfg.StatementTimeout)
	e.sessionRoles = !cfg.SharedRole
	return e, nil
}

// NewWithDB wraps an existing connection pool. Queries run under per-test
// roles, so the pool's user needs CREATEROLE.
func NewWithDB(db *sqlx.DB, statementTimeout time.Duration) *Executor {
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	return &Executor{db: db, statementTimeout: statementTimeout, sessionRoles: true}
}

// Close releases the connection pool.
func (e *Executor) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Session tracks the schemas created on behalf of one execution session.
type Session struct {
	exec    *Executor
	prefix  string
	timeout time.Duration

	mu      sync.Mutex
	schemas []string
}

// NewSession starts a session. timeout caps each query in addition to the
// executor's statement timeout; zero keeps the executor default.
func (e *Executor) NewSession(sessionID string, timeout time.Duration) *Session {
	st := e.statementTimeout
	if timeout > 0 && timeout < st {
		st = timeout
	}
	return &Session{exec: e, prefix: schemaPrefix(sessionID), timeout: st}
}

func schemaPrefix(sessionID string) string {
	var b strings.Builder
	b.WriteString("sess_")
	for _, r := range strings.ToLower(sessionID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SchemaName returns the schema used for the test case at index.
func (s *Session) SchemaName(index int) string {
	return s.prefix + "_t" + strconv.Itoa(index)
}

// Run seeds a fresh schema with the test input's setup statements and runs
// query in a read-only transaction. The actual value is the list of rows.
func (s *Session) Run(ctx context.Context, index int, query string, input any) result.Outcome {
	start := time.Now()
	out := s.run(ctx, index, query, input)
	out.TimeMs = time.Since(start).Milliseconds()
	return out
}

func (s *Session) run(ctx context.Context, index int, query string, input any) result.Outcome {
	setup, err := ParseSetup(input)
	if err != nil {
		return result.Outcome{Error: err.Error()}
	}

	schema := s.SchemaName(index)
	if err := s.prepareSchema(ctx, schema, setup); err != nil {
		return failure(ctx, "setup failed", err)
	}

	rows, err := s.query(ctx, schema, query)
	if err != nil {
		return failure(ctx, "", err)
	}
	return result.Outcome{Actual: rows}
}

func (s *Session) prepareSchema(ctx context.Context, schema string, setup []string) error {
	tx, err := s.exec.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	quoted := pq.QuoteIdentifier(schema)
	if _, err := tx.ExecContext(ctx, "CREATE SCHEMA "+quoted); err != nil {
		return err
	}
	s.mu.Lock()
	s.schemas = append(s.schemas, schema)
	s.mu.Unlock()

	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+quoted); err != nil {
		return err
	}
	for _, stmt := range setup {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if s.exec.sessionRoles {
		for _, stmt := range roleStatements(schema) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// roleStatements create a login-less role named after schema that can read
// that schema and nothing else created by other tests. The connecting user
// becomes a member so it can SET ROLE to it.
func roleStatements(schema string) []string {
	q := pq.QuoteIdentifier(schema)
	return []string{
		"CREATE ROLE " + q + " NOLOGIN",
		"GRANT " + q + " TO CURRENT_USER",
		"GRANT USAGE ON SCHEMA " + q + " TO " + q,
		"GRANT SELECT ON ALL TABLES IN SCHEMA " + q + " TO " + q,
	}
}

func (s *Session) query(ctx context.Context, schema, query string) ([]map[string]any, error) {
	tx, err := s.exec.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+pq.QuoteIdentifier(schema)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", s.timeout.Milliseconds())); err != nil {
		return nil, err
	}
	if s.exec.sessionRoles {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pq.QuoteIdentifier(schema)); err != nil {
			return nil, err
		}
	}

	// Prepared statements use the extended protocol, which accepts exactly
	// one command, so the query cannot end the read-only transaction.
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryxContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	numeric := make(map[string]bool, len(types))
	for _, ct := range types {
		switch ct.DatabaseTypeName() {
		case "NUMERIC", "DECIMAL", "MONEY":
			numeric[ct.Name()] = true
		}
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any, len(types))
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			row[k] = normalize(v, numeric[k])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize turns driver values into JSON-friendly ones.
func normalize(v any, numeric bool) any {
	switch val := v.(type) {
	case []byte:
		if numeric {
			if f, err := strconv.ParseFloat(string(val), 64); err == nil {
				return f
			}
		}
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

func failure(ctx context.Context, prefix string, err error) result.Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result.Outcome{Error: appErr.Cancelled.Message(), Cancelled: true}
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		if pqErr.Code == codeQueryCanceled {
			return result.Outcome{Error: appErr.TimeLimitExceeded.Message(), TimedOut: true}
		}
		msg := pqErr.Message
		if prefix != "" {
			msg = prefix + ": " + msg
		}
		return result.Outcome{Error: msg}
	}
	msg := err.Error()
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	return result.Outcome{Error: msg}
}

// Close drops every schema the session created, then its roles. Failures
// are logged and returned together; the caller decides whether to surface
// them.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	schemas := s.schemas
	s.schemas = nil
	s.mu.Unlock()

	var errs []error
	for _, schema := range schemas {
		quoted := pq.QuoteIdentifier(schema)
		if _, err := s.exec.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE"); err != nil {
			logger.Warn(ctx, "drop sql schema failed", zap.String("schema", schema), zap.Error(err))
			errs = append(errs, fmt.Errorf("drop schema %s: %w", schema, err))
			continue
		}
		if !s.exec.sessionRoles {
			continue
		}
		if _, err := s.exec.db.ExecContext(ctx, "DROP ROLE IF EXISTS "+quoted); err != nil {
			logger.Warn(ctx, "drop sql role failed", zap.String("role", schema), zap.Error(err))
			errs = append(errs, fmt.Errorf("drop role %s: %w", schema, err))
		}
	}
	return stderrors.Join(errs...)
}

// ParseSetup extracts setup statements from a SQL test input: either a
// string of statements or an object {"setup": string | [string, ...]}.
func ParseSetup(input any) ([]string, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case map[string]any:
		return parseSetupField(v["setup"])
	default:
		return nil, fmt.Errorf("invalid SQL test input: expected setup string or object, got %T", input)
	}
}

func parseSetupField(field any) ([]string, error) {
	switch v := field.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		stmts := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid SQL test input: setup[%d] is %T, want string", i, item)
			}
			stmts = append(stmts, s)
		}
		return stmts, nil
	default:
		return nil, fmt.Errorf("invalid SQL test input: setup is %T", field)
	}
}
