package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

// IsConflict reports whether err came from a uniqueness or foreign key violation.
func IsConflict(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repo runs queries against either the pool or an open transaction. Every
// repository method hangs off Repo so the same code serves both.
type Repo struct {
	q queryer
}

type Client struct {
	*Repo
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{Repo: &Repo{q: db}, db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// WithTx runs fn inside a single transaction. Any error from fn rolls back
// every write made through the Repo it was given.
func (c *Client) WithTx(ctx context.Context, fn func(r *Repo) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Repo{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Transaction rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *Client) InitSchema() error {
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS expression_domains (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	numeric_min REAL,
	numeric_max REAL,
	labels TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS issue_models (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	endpoint TEXT NOT NULL,
	is_consensus INTEGER NOT NULL,
	is_pairwise INTEGER NOT NULL,
	domain_types TEXT NOT NULL DEFAULT '[]',
	small_description TEXT,
	extend_description TEXT,
	more_info_url TEXT,
	parameters TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	admin_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	model_name TEXT NOT NULL,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	is_consensus INTEGER NOT NULL,
	consensus_max_phases INTEGER,
	consensus_threshold REAL,
	active INTEGER NOT NULL DEFAULT 1,
	current_stage TEXT NOT NULL,
	weighting_mode TEXT NOT NULL,
	model_parameters TEXT NOT NULL DEFAULT '{}',
	alternative_order TEXT,
	leaf_criteria_order TEXT,
	creation_date INTEGER NOT NULL,
	closure_date INTEGER
);
CREATE INDEX IF NOT EXISTS idx_issues_admin ON issues(admin_id);
CREATE INDEX IF NOT EXISTS idx_issues_active ON issues(active);

CREATE TABLE IF NOT EXISTS alternatives (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	name TEXT NOT NULL,
	UNIQUE (issue_id, name),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS criteria (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	parent_id TEXT,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	is_leaf INTEGER NOT NULL,
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_criteria_issue ON criteria(issue_id);

CREATE TABLE IF NOT EXISTS participations (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	expert_id TEXT NOT NULL,
	invitation_status TEXT NOT NULL,
	evaluation_completed INTEGER NOT NULL DEFAULT 0,
	weights_completed INTEGER NOT NULL DEFAULT 0,
	entry_phase INTEGER,
	entry_stage TEXT,
	joined_at INTEGER NOT NULL,
	UNIQUE (issue_id, expert_id),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_participations_expert ON participations(expert_id);

CREATE TABLE IF NOT EXISTS issue_expression_domains (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	source_domain_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	numeric_min REAL,
	numeric_max REAL,
	labels TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	UNIQUE (issue_id, source_domain_id),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	expert_id TEXT NOT NULL,
	alternative_id TEXT NOT NULL,
	compared_alternative_id TEXT NOT NULL DEFAULT '',
	criterion_id TEXT NOT NULL,
	domain_id TEXT NOT NULL,
	value TEXT,
	timestamp INTEGER,
	consensus_phase INTEGER,
	history TEXT NOT NULL DEFAULT '[]',
	UNIQUE (issue_id, expert_id, alternative_id, compared_alternative_id, criterion_id),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_evaluations_expert ON evaluations(issue_id, expert_id);

CREATE TABLE IF NOT EXISTS criteria_weight_evaluations (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	expert_id TEXT NOT NULL,
	best_criterion TEXT NOT NULL DEFAULT '',
	worst_criterion TEXT NOT NULL DEFAULT '',
	best_to_others TEXT NOT NULL DEFAULT '{}',
	others_to_worst TEXT NOT NULL DEFAULT '{}',
	manual_weights TEXT NOT NULL DEFAULT '{}',
	consensus_phase INTEGER NOT NULL DEFAULT 1,
	completed INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	UNIQUE (issue_id, expert_id),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS consensus (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	phase INTEGER NOT NULL,
	level REAL,
	timestamp INTEGER NOT NULL,
	details TEXT NOT NULL DEFAULT '{}',
	collective_evaluations TEXT NOT NULL DEFAULT '{}',
	UNIQUE (issue_id, phase),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS issue_scenarios (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	created_by TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	target_model_id TEXT NOT NULL,
	target_model_name TEXT NOT NULL,
	domain_type TEXT NOT NULL,
	is_pairwise INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	config TEXT NOT NULL,
	inputs TEXT NOT NULL,
	outputs TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_scenarios_issue ON issue_scenarios(issue_id, created_at);

CREATE TABLE IF NOT EXISTS exit_user_issues (
	id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	hidden INTEGER NOT NULL DEFAULT 0,
	timestamp INTEGER NOT NULL,
	phase INTEGER,
	stage TEXT,
	reason TEXT,
	history TEXT NOT NULL DEFAULT '[]',
	UNIQUE (user_id, issue_id),
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	expert_id TEXT NOT NULL,
	issue_id TEXT,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	requires_action INTEGER NOT NULL,
	action_taken INTEGER,
	read INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_expert ON notifications(expert_id, created_at);
`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func boolPtr(n sql.NullBool) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Bool
	return &v
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw sql.NullString, v interface{}) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}
	return string(b)
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
