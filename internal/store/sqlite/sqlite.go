// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite implements the object-store boundary on an embedded
// SQLite database, for single-node deployments. Models are stored as
// (model, id, fields) rows with the fields serialized to JSON; filters
// beyond id are matched against the decoded fields. A run's writes go
// through a transaction-backed session; sessionless reads run directly
// against the database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/netrunner/netrunner/internal/runner/store"
	"github.com/netrunner/netrunner/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.ObjectStore = (*Store)(nil)
	_ store.Session     = (*session)(nil)
)

// querier is the query surface shared by *sql.DB and *sql.Tx, so every
// model operation can run sessionless or inside a run's transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQLite-backed object store.
type Store struct {
	db *sql.DB
}

// Config contains connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (and migrates) the store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// A run session pins one connection for its transaction; a couple of
	// spares keep sessionless reads from queueing behind it.
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite: execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS objects (
			model TEXT NOT NULL,
			id TEXT NOT NULL,
			fields TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (model, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_model ON objects(model)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			user TEXT NOT NULL,
			device TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			secret TEXT NOT NULL,
			PRIMARY KEY (user, device, type)
		)`,
		`CREATE TABLE IF NOT EXISTS service_logs (
			run_id TEXT NOT NULL,
			service TEXT NOT NULL,
			lines TEXT NOT NULL,
			PRIMARY KEY (run_id, service)
		)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Fetch returns the first instance of model matching filters.
func (s *Store) Fetch(ctx context.Context, model string, filters map[string]any) (any, bool, error) {
	return fetch(ctx, s.db, model, filters)
}

// FetchAll returns every instance of model.
func (s *Store) FetchAll(ctx context.Context, model string) ([]any, error) {
	return fetchAll(ctx, s.db, model)
}

// Factory creates an instance of model, or updates the row whose id matches
// fields["id"].
func (s *Store) Factory(ctx context.Context, model string, fields map[string]any) (any, error) {
	return factory(ctx, s.db, model, fields)
}

// Delete removes the first instance of model matching filters.
func (s *Store) Delete(ctx context.Context, model string, filters map[string]any) error {
	return deleteModel(ctx, s.db, model, filters)
}

// GetCredential resolves a stored credential, preferring the most specific
// (user, device, type) row.
func (s *Store) GetCredential(ctx context.Context, user, device, credType string) (string, error) {
	return getCredential(ctx, s.db, user, device, credType)
}

// PutCredential stores a credential row.
func (s *Store) PutCredential(ctx context.Context, user, device, credType, secret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user, device, type, secret) VALUES (?, ?, ?, ?)
		ON CONFLICT (user, device, type) DO UPDATE SET secret = excluded.secret`,
		user, device, credType, secret)
	if err != nil {
		return fmt.Errorf("sqlite: store credential: %w", err)
	}
	return nil
}

// AppendServiceLog merges lines into the run's per-service log row.
func (s *Store) AppendServiceLog(ctx context.Context, log store.ServiceLog) error {
	return appendServiceLog(ctx, s.db, log)
}

// NewSession opens the transaction every write of one run stages into.
// Nothing issued through the session is visible outside it until Commit;
// Rollback discards the run's staged rows wholesale.
func (s *Store) NewSession(ctx context.Context) (store.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &session{tx: tx}, nil
}

// session serializes its calls: a transaction rides one connection, and
// parallel device workers all stage through the same session.
type session struct {
	mu   sync.Mutex
	tx   *sql.Tx
	done bool
}

func (s *session) Fetch(ctx context.Context, model string, filters map[string]any) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetch(ctx, s.tx, model, filters)
}

func (s *session) FetchAll(ctx context.Context, model string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetchAll(ctx, s.tx, model)
}

func (s *session) Factory(ctx context.Context, model string, fields map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return factory(ctx, s.tx, model, fields)
}

func (s *session) Delete(ctx context.Context, model string, filters map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteModel(ctx, s.tx, model, filters)
}

func (s *session) GetCredential(ctx context.Context, user, device, credType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getCredential(ctx, s.tx, user, device, credType)
}

func (s *session) AppendServiceLog(ctx context.Context, log store.ServiceLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendServiceLog(ctx, s.tx, log)
}

func (s *session) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	err := s.tx.Commit()
	if err == nil {
		s.done = true
	}
	return err
}

func (s *session) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	return s.tx.Rollback()
}

func fetch(ctx context.Context, q querier, model string, filters map[string]any) (any, bool, error) {
	if id, ok := filters["id"].(string); ok && len(filters) == 1 {
		var fieldsJSON string
		err := q.QueryRowContext(ctx,
			`SELECT fields FROM objects WHERE model = ? AND id = ?`, model, id).Scan(&fieldsJSON)
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("sqlite: fetch %s: %w", model, err)
		}
		fields, err := decodeFields(fieldsJSON, id)
		return fields, err == nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, fields FROM objects WHERE model = ? ORDER BY id`, model)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: fetch %s: %w", model, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, fieldsJSON string
		if err := rows.Scan(&id, &fieldsJSON); err != nil {
			return nil, false, fmt.Errorf("sqlite: scan %s: %w", model, err)
		}
		fields, err := decodeFields(fieldsJSON, id)
		if err != nil {
			return nil, false, err
		}
		if matches(fields, filters) {
			return fields, true, nil
		}
	}
	return nil, false, rows.Err()
}

func fetchAll(ctx context.Context, q querier, model string) ([]any, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, fields FROM objects WHERE model = ? ORDER BY id`, model)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch all %s: %w", model, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var id, fieldsJSON string
		if err := rows.Scan(&id, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", model, err)
		}
		fields, err := decodeFields(fieldsJSON, id)
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	return out, rows.Err()
}

func factory(ctx context.Context, q querier, model string, fields map[string]any) (any, error) {
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.New().String()
	}
	stored := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		stored[k] = v
	}
	stored["id"] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode %s fields: %w", model, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = q.ExecContext(ctx, `
		INSERT INTO objects (model, id, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`,
		model, id, string(data), now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upsert %s: %w", model, err)
	}
	return stored, nil
}

func deleteModel(ctx context.Context, q querier, model string, filters map[string]any) error {
	found, ok, err := fetch(ctx, q, model, filters)
	if err != nil {
		return err
	}
	if !ok {
		return &errors.NotFoundError{Resource: model, ID: fmt.Sprint(filters)}
	}
	fields := found.(map[string]any)
	_, err = q.ExecContext(ctx,
		`DELETE FROM objects WHERE model = ? AND id = ?`, model, fields["id"])
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", model, err)
	}
	return nil
}

func getCredential(ctx context.Context, q querier, user, device, credType string) (string, error) {
	var secret string
	err := q.QueryRowContext(ctx, `
		SELECT secret FROM credentials
		WHERE user = ? AND device IN (?, '') AND type IN (?, '')
		ORDER BY device DESC, type DESC LIMIT 1`,
		user, device, credType).Scan(&secret)
	if err == sql.ErrNoRows {
		return "", &errors.NotFoundError{Resource: "credential", ID: user}
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: credential lookup: %w", err)
	}
	return secret, nil
}

func appendServiceLog(ctx context.Context, q querier, log store.ServiceLog) error {
	existing := []string{}
	var linesJSON string
	err := q.QueryRowContext(ctx,
		`SELECT lines FROM service_logs WHERE run_id = ? AND service = ?`,
		log.RunID, log.Service).Scan(&linesJSON)
	if err == nil {
		if err := json.Unmarshal([]byte(linesJSON), &existing); err != nil {
			return fmt.Errorf("sqlite: decode service log: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: read service log: %w", err)
	}

	merged, err := json.Marshal(append(existing, log.Lines...))
	if err != nil {
		return fmt.Errorf("sqlite: encode service log: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO service_logs (run_id, service, lines) VALUES (?, ?, ?)
		ON CONFLICT (run_id, service) DO UPDATE SET lines = excluded.lines`,
		log.RunID, log.Service, string(merged))
	if err != nil {
		return fmt.Errorf("sqlite: write service log: %w", err)
	}
	return nil
}

func decodeFields(fieldsJSON, id string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("sqlite: decode fields of %s: %w", id, err)
	}
	return fields, nil
}

func matches(fields, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}
