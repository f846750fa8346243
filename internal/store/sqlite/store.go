package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mas_sched/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNegotiationNotFound = errors.New("negotiation not found")

const schema = `
CREATE TABLE IF NOT EXISTS completed_methods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	method_index INTEGER NOT NULL,
	agent TEXT NOT NULL,
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completed_methods_label ON completed_methods(label);

CREATE TABLE IF NOT EXISTS completed_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	agent TEXT NOT NULL,
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completed_tasks_label ON completed_tasks(label);

CREATE TABLE IF NOT EXISTS negotiations (
	id TEXT PRIMARY KEY,
	task_name TEXT NOT NULL,
	requester TEXT NOT NULL,
	participants INTEGER NOT NULL DEFAULT 0,
	winner TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	problem TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_negotiations_task ON negotiations(task_name, created_at);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	producer_agent TEXT NOT NULL,
	kind TEXT NOT NULL,
	uri TEXT NOT NULL,
	checksum TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_actor ON decision_log(actor, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas are per connection; every agent writes through this one.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) RecordCompletedMethod(ctx context.Context, entry domain.CompletedMethod) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO completed_methods(label, method_index, agent, completed_at) VALUES(?, ?, ?, ?)`,
		entry.Label, entry.MethodIndex, entry.Agent, entry.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record completed method: %w", err)
	}
	return nil
}

func (s *Store) RecordCompletedTask(ctx context.Context, entry domain.CompletedTask) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO completed_tasks(label, agent, completed_at) VALUES(?, ?, ?)`,
		entry.Label, entry.Agent, entry.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record completed task: %w", err)
	}
	return nil
}

func (s *Store) ListCompletedMethods(ctx context.Context) ([]domain.CompletedMethod, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, label, method_index, agent, completed_at FROM completed_methods ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed methods: %w", err)
	}
	defer rows.Close()

	var result []domain.CompletedMethod
	for rows.Next() {
		var item domain.CompletedMethod
		var completedAt int64
		if err := rows.Scan(&item.ID, &item.Label, &item.MethodIndex, &item.Agent, &completedAt); err != nil {
			return nil, fmt.Errorf("scan completed method: %w", err)
		}
		item.CompletedAt = unixToTime(completedAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed methods: %w", err)
	}
	return result, nil
}

func (s *Store) ListCompletedTasks(ctx context.Context) ([]domain.CompletedTask, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, label, agent, completed_at FROM completed_tasks ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	defer rows.Close()

	var result []domain.CompletedTask
	for rows.Next() {
		var item domain.CompletedTask
		var completedAt int64
		if err := rows.Scan(&item.ID, &item.Label, &item.Agent, &completedAt); err != nil {
			return nil, fmt.Errorf("scan completed task: %w", err)
		}
		item.CompletedAt = unixToTime(completedAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed tasks: %w", err)
	}
	return result, nil
}

func (s *Store) CreateNegotiation(ctx context.Context, n domain.Negotiation) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
	if n.Status == "" {
		n.Status = domain.NegotiationStatusOpen
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO negotiations(id, task_name, requester, participants, winner, status, problem, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TaskName, n.Requester, n.Participants, n.Winner, string(n.Status), n.Problem,
		n.CreatedAt.Unix(), n.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create negotiation: %w", err)
	}
	return nil
}

func (s *Store) ResolveNegotiation(ctx context.Context, id, winner string, status domain.NegotiationStatus, problem string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE negotiations SET winner = ?, status = ?, problem = ?, updated_at = ? WHERE id = ?`,
		winner, string(status), problem, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve negotiation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve negotiation rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNegotiationNotFound, id)
	}
	return nil
}

func (s *Store) GetNegotiation(ctx context.Context, id string) (domain.Negotiation, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, task_name, requester, participants, winner, status, problem, created_at, updated_at
		FROM negotiations WHERE id = ?`,
		id,
	)
	n, err := scanNegotiation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Negotiation{}, fmt.Errorf("%w: %s", ErrNegotiationNotFound, id)
	}
	if err != nil {
		return domain.Negotiation{}, fmt.Errorf("get negotiation: %w", err)
	}
	return n, nil
}

func (s *Store) ListNegotiations(ctx context.Context, limit int) ([]domain.Negotiation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task_name, requester, participants, winner, status, problem, created_at, updated_at
		FROM negotiations
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list negotiations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Negotiation, 0, limit)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan negotiation: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate negotiations: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNegotiation(row rowScanner) (domain.Negotiation, error) {
	var n domain.Negotiation
	var status string
	var created, updated int64
	if err := row.Scan(
		&n.ID, &n.TaskName, &n.Requester, &n.Participants, &n.Winner, &status, &n.Problem, &created, &updated,
	); err != nil {
		return domain.Negotiation{}, err
	}
	n.Status = domain.NegotiationStatus(status)
	n.CreatedAt = unixToTime(created)
	n.UpdatedAt = unixToTime(updated)
	return n, nil
}

func (s *Store) CreateArtifact(ctx context.Context, artifact domain.Artifact) error {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if artifact.Metadata == nil {
		artifact.Metadata = []byte("{}")
	}
	allowed := 0
	if artifact.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts(id, producer_agent, kind, uri, checksum, allowed, reason, metadata, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.ProducerAgent, artifact.Kind, artifact.URI, artifact.Checksum,
		allowed, artifact.Reason, string(artifact.Metadata), artifact.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, producer string, limit int) ([]domain.Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, producer_agent, kind, uri, checksum, allowed, reason, metadata, created_at FROM artifacts`
	args := []any{}
	if strings.TrimSpace(producer) != "" {
		query += ` WHERE producer_agent = ?`
		args = append(args, producer)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var result []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var allowed int
		var metadata string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ProducerAgent, &a.Kind, &a.URI, &a.Checksum, &allowed, &a.Reason, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.Allowed = allowed == 1
		a.Metadata = []byte(metadata)
		a.CreatedAt = unixToTime(createdAt)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return result, nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// ListDecisions returns the newest decisions first, optionally for one actor.
func (s *Store) ListDecisions(ctx context.Context, actor string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 300
	}
	query := `SELECT id, actor, action, reason, payload, created_at FROM decision_log`
	args := []any{}
	if strings.TrimSpace(actor) != "" {
		query += ` WHERE actor = ?`
		args = append(args, actor)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0, limit)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
