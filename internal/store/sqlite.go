// Package store provides the relational persistence layer shared by the
// memory engine and the pipeline engine: parameterized queries, transactional
// migrations, and the sole point of SQL-injection defense (bound parameters,
// never string interpolation of untrusted values).
package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// ErrPathTraversal is returned when a requested database path does not
// resolve under the fixed root directory.
type ErrPathTraversal struct {
	Path string
}

func (e *ErrPathTraversal) Error() string {
	return fmt.Sprintf("store: path %q is outside the memory root", e.Path)
}

// Root returns the fixed root directory all databases must resolve under:
// <home>/.openclaw/memory/.
func Root() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".openclaw", "memory"), nil
}

// ResolvePath expands ~, resolves a relative dbPath against Root(), and
// fails if the resulting absolute path does not live under Root().
func ResolvePath(dbPath string) (string, error) {
	if dbPath == "" {
		root, err := Root()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, "memory.db"), nil
	}

	expanded := dbPath
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}
	if !filepath.IsAbs(expanded) {
		root, err := Root()
		if err != nil {
			return "", err
		}
		expanded = filepath.Join(root, expanded)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	root, err := Root()
	if err != nil {
		return "", err
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ErrPathTraversal{Path: dbPath}
	}

	return abs, nil
}

// maxValueLen is the cap applied to every sanitized string value before it
// is bound into a query (spec.md §4.1).
const maxValueLen = 10000

// sanitize strips NUL bytes and caps length. It is the only pre-processing
// applied to values before binding; binding itself is the SQL-injection
// defense, not this cap.
func sanitize(s string) string {
	if strings.ContainsRune(s, 0) {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if len(s) > maxValueLen {
		r := []rune(s)
		if len(r) > maxValueLen {
			r = r[:maxValueLen]
		}
		s = string(r)
	}
	return s
}

// Store wraps one SQLite database: decisions/vectors/entities on the memory
// side, pipelines/steps/edges/triggers on the pipeline side, plus the
// security-event audit trail and schema_version ledger.
type Store struct {
	db      *sql.DB
	path    string
	mu      sync.Mutex
	entropy *rand.Rand
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Store{}
)

// Open returns the Store singleton for the given absolute path, opening it
// if necessary. dbPath is resolved and validated with ResolvePath first.
func Open(dbPath string) (*Store, error) {
	abs, err := ResolvePath(dbPath)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if s, ok := registry[abs]; ok {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", abs+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		path:    abs,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	registry[abs] = s
	return s, nil
}

// Path returns the resolved absolute database path.
func (s *Store) Path() string { return s.path }

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Close closes the underlying connection and removes it from the registry.
func (s *Store) Close() error {
	registryMu.Lock()
	delete(registry, s.path)
	registryMu.Unlock()
	return s.db.Close()
}

// CloseAll tears down every pooled connection. Used at process shutdown.
func CloseAll() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for p, s := range registry {
		s.db.Close()
		delete(registry, p)
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL DEFAULT '',
	ts               TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	rationale        TEXT NOT NULL DEFAULT '',
	classification   TEXT NOT NULL DEFAULT '',
	importance       REAL NOT NULL DEFAULT 0.5,
	ttl_class        TEXT NOT NULL DEFAULT 'active',
	expires_at       TEXT,
	last_accessed_at TEXT,
	entity           TEXT NOT NULL DEFAULT '',
	fact_key         TEXT NOT NULL DEFAULT '',
	fact_value       TEXT NOT NULL DEFAULT '',
	tags             TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_ttl ON decisions(ttl_class);
CREATE INDEX IF NOT EXISTS idx_decisions_expires ON decisions(expires_at);
CREATE INDEX IF NOT EXISTS idx_decisions_entity ON decisions(entity);
CREATE INDEX IF NOT EXISTS idx_decisions_entity_key ON decisions(entity, fact_key);
CREATE INDEX IF NOT EXISTS idx_decisions_importance ON decisions(importance DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);

CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(
	description, rationale, entity, fact_key, fact_value, tags,
	content=decisions, content_rowid=rowid
);

CREATE TABLE IF NOT EXISTS vectors (
	id          TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
	content     TEXT NOT NULL,
	embedding   TEXT NOT NULL,
	model       TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vectors_decision ON vectors(decision_id);
CREATE INDEX IF NOT EXISTS idx_vectors_model ON vectors(model);

CREATE TABLE IF NOT EXISTS entities (
	name         TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	source       TEXT NOT NULL,
	added_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS security_events (
	id              TEXT PRIMARY KEY,
	ts              TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	source_role     TEXT NOT NULL,
	target_entity   TEXT NOT NULL DEFAULT '',
	target_key      TEXT NOT NULL DEFAULT '',
	target_value    TEXT NOT NULL DEFAULT '',
	matched_pattern TEXT NOT NULL DEFAULT '',
	snippet         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_security_ts ON security_events(ts);

CREATE TABLE IF NOT EXISTS pipelines (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	creator      TEXT NOT NULL DEFAULT '',
	trigger_msg  TEXT NOT NULL DEFAULT '',
	config       TEXT,
	summary      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);

CREATE TABLE IF NOT EXISTS pipeline_steps (
	id             TEXT PRIMARY KEY,
	pipeline_id    TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	step_type      TEXT NOT NULL DEFAULT 'task',
	status         TEXT NOT NULL,
	tier           TEXT NOT NULL DEFAULT '',
	executor       TEXT NOT NULL DEFAULT '',
	prompt_tmpl    TEXT NOT NULL DEFAULT '',
	depends_on_all INTEGER NOT NULL DEFAULT 1,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	input          TEXT NOT NULL DEFAULT '',
	output         TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	UNIQUE(pipeline_id, name)
);
CREATE INDEX IF NOT EXISTS idx_steps_pipeline ON pipeline_steps(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_steps_status ON pipeline_steps(pipeline_id, status);

CREATE TABLE IF NOT EXISTS pipeline_edges (
	pipeline_id     TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	parent_step_id  TEXT NOT NULL REFERENCES pipeline_steps(id) ON DELETE CASCADE,
	child_step_id   TEXT NOT NULL REFERENCES pipeline_steps(id) ON DELETE CASCADE,
	condition_kind  TEXT NOT NULL DEFAULT 'unconditional',
	condition_value TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (pipeline_id, parent_step_id, child_step_id)
);
CREATE INDEX IF NOT EXISTS idx_edges_pipeline ON pipeline_edges(pipeline_id);

CREATE TABLE IF NOT EXISTS pipeline_triggers (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
	cron_expr   TEXT NOT NULL,
	timezone    TEXT NOT NULL DEFAULT 'UTC',
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_fired  TEXT,
	next_fire   TEXT
);
CREATE INDEX IF NOT EXISTS idx_triggers_enabled ON pipeline_triggers(enabled);
`

var migrations = []struct {
	version     int
	description string
}{
	{1, "initial schema: decisions, vectors, entities, security_events, pipelines, steps, edges, triggers"},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}

	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS decisions_ai AFTER INSERT ON decisions BEGIN
		INSERT INTO decisions_fts(rowid, description, rationale, entity, fact_key, fact_value, tags)
		VALUES (new.rowid, new.description, new.rationale, new.entity, new.fact_key, new.fact_value, new.tags);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS decisions_ad AFTER DELETE ON decisions BEGIN
		INSERT INTO decisions_fts(decisions_fts, rowid, description, rationale, entity, fact_key, fact_value, tags)
		VALUES('delete', old.rowid, old.description, old.rationale, old.entity, old.fact_key, old.fact_value, old.tags);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS decisions_au AFTER UPDATE ON decisions BEGIN
		INSERT INTO decisions_fts(decisions_fts, rowid, description, rationale, entity, fact_key, fact_value, tags)
		VALUES('delete', old.rowid, old.description, old.rationale, old.entity, old.fact_key, old.fact_value, old.tags);
		INSERT INTO decisions_fts(rowid, description, rationale, entity, fact_key, fact_value, tags)
		VALUES (new.rowid, new.description, new.rationale, new.entity, new.fact_key, new.fact_value, new.tags);
	END`)
	s.db.Exec(`INSERT OR IGNORE INTO decisions_fts(rowid, description, rationale, entity, fact_key, fact_value, tags)
		SELECT rowid, description, rationale, entity, fact_key, fact_value, tags FROM decisions`)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var applied int
	tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied)

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range migrations {
		if m.version <= applied {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
			m.version, m.description, now); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return tx.Commit()
}
