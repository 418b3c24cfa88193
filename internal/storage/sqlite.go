package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding execution records and their
// inverted keyword index. Writes on the two tables always happen inside a
// single transaction so readers observe either the pre- or post-state of an
// insert or delete, never a record without its index rows.
type Store struct {
	db *sql.DB

	// Serializes insert/delete so concurrent writers on the same record id
	// cannot interleave the index replacement.
	writeMu sync.Mutex
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "taskmem.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const recordColumns = "id, question, steps, result, rating, success, execution_time, task_type, keywords, created_at"

// InsertRecord upserts a record and rebuilds its keyword index entries.
// The record row and the index replacement share one transaction: on
// conflict the old index rows are dropped before the new keywords are
// inserted, so re-storing the same id never duplicates index entries.
func (s *Store) InsertRecord(rec ExecutionRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stepsJSON, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}
	keywordsJSON, err := json.Marshal(rec.Keywords)
	if err != nil {
		return fmt.Errorf("marshalling keywords: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO execution_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			steps = excluded.steps,
			result = excluded.result,
			rating = excluded.rating,
			success = excluded.success,
			execution_time = excluded.execution_time,
			task_type = excluded.task_type,
			keywords = excluded.keywords,
			created_at = excluded.created_at`,
		rec.ID, rec.Question, string(stepsJSON), rec.Result, rec.Rating,
		rec.Success, rec.ExecutionTime, rec.TaskType, string(keywordsJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM keyword_index WHERE record_id = ?", rec.ID); err != nil {
		return fmt.Errorf("clearing keyword index: %w", err)
	}

	for _, kw := range rec.Keywords {
		if _, err := tx.Exec(
			"INSERT INTO keyword_index (keyword, record_id, weight) VALUES (?, ?, ?)",
			kw, rec.ID, 1.0,
		); err != nil {
			return fmt.Errorf("indexing keyword %q: %w", kw, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing insert: %w", err)
	}
	return nil
}

// GetRecord returns a single record by id, or ErrNotFound.
func (s *Store) GetRecord(id string) (ExecutionRecord, error) {
	row := s.db.QueryRow("SELECT "+recordColumns+" FROM execution_records WHERE id = ?", id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return ExecutionRecord{}, err
	}
	return rec, nil
}

// ListRecent returns up to limit records, most recent first.
func (s *Store) ListRecent(limit int) ([]ExecutionRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+recordColumns+" FROM execution_records ORDER BY created_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteRecord removes a record and its keyword index entries in one
// transaction. Returns ErrNotFound if the record does not exist.
func (s *Store) DeleteRecord(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM keyword_index WHERE record_id = ?", id); err != nil {
		return fmt.Errorf("deleting keyword index: %w", err)
	}

	res, err := tx.Exec("DELETE FROM execution_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// SearchByKeywords returns records sharing at least one keyword with the
// query, ordered by a quality-biased relevance score:
//
//	matchCount + rating*2.0 + success bonus + quality bonus
//
// where the quality bonus is 3.0 for 5-star records and 1.5 for 4-star.
// Ties break on rating, then recency. Duplicate query keywords are collapsed
// before the query so each keyword counts at most once per record. An empty
// keyword list returns nil without touching the database.
func (s *Store) SearchByKeywords(keywords []string, limit int) ([]ExecutionRecord, error) {
	keywords = dedupe(keywords)
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	placeholders := strings.Repeat(",?", len(keywords)-1)
	query := `
		SELECT ` + prefixColumns("r", recordColumns) + `,
		       (COUNT(DISTINCT k.keyword) * 1.0
		        + r.rating * 2.0
		        + CASE WHEN r.success = 1 THEN 1.0 ELSE 0.0 END
		        + CASE WHEN r.rating >= 5 THEN 3.0
		               WHEN r.rating >= 4 THEN 1.5
		               ELSE 0.0 END) AS score
		FROM execution_records r
		JOIN keyword_index k ON r.id = k.record_id
		WHERE k.keyword IN (?` + placeholders + `)
		GROUP BY r.id
		ORDER BY score DESC, r.rating DESC, r.created_at DESC
		LIMIT ?`

	args := make([]any, 0, len(keywords)+1)
	for _, kw := range keywords {
		args = append(args, kw)
	}
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching by keywords: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var stepsJSON, keywordsJSON, createdAt string
		if err := rows.Scan(
			&rec.ID, &rec.Question, &stepsJSON, &rec.Result, &rec.Rating,
			&rec.Success, &rec.ExecutionTime, &rec.TaskType, &keywordsJSON,
			&createdAt, &rec.Score,
		); err != nil {
			return nil, err
		}
		if err := finishRecord(&rec, stepsJSON, keywordsJSON, createdAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Statistics returns aggregate counts over the store. An empty store yields
// zeroed aggregates, never an error.
func (s *Store) Statistics() (Statistics, error) {
	stats := Statistics{
		RatingCounts:   make(map[int]int),
		TaskTypeCounts: make(map[string]int),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM execution_records").Scan(&stats.TotalRecords); err != nil {
		return Statistics{}, fmt.Errorf("counting records: %w", err)
	}
	if stats.TotalRecords == 0 {
		return stats, nil
	}

	rows, err := s.db.Query("SELECT rating, COUNT(*) FROM execution_records GROUP BY rating")
	if err != nil {
		return Statistics{}, fmt.Errorf("rating histogram: %w", err)
	}
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			rows.Close()
			return Statistics{}, err
		}
		stats.RatingCounts[rating] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Statistics{}, err
	}
	rows.Close()

	rows, err = s.db.Query("SELECT task_type, COUNT(*) FROM execution_records GROUP BY task_type")
	if err != nil {
		return Statistics{}, fmt.Errorf("task type histogram: %w", err)
	}
	for rows.Next() {
		var taskType string
		var count int
		if err := rows.Scan(&taskType, &count); err != nil {
			rows.Close()
			return Statistics{}, err
		}
		stats.TaskTypeCounts[taskType] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Statistics{}, err
	}
	rows.Close()

	var successRate sql.NullFloat64
	if err := s.db.QueryRow("SELECT AVG(CAST(success AS FLOAT)) FROM execution_records").Scan(&successRate); err != nil {
		return Statistics{}, fmt.Errorf("success rate: %w", err)
	}
	stats.SuccessRate = successRate.Float64

	return stats, nil
}

// scanRecord reads the standard record columns from a row scanner.
func scanRecord(scan func(...any) error) (ExecutionRecord, error) {
	var rec ExecutionRecord
	var stepsJSON, keywordsJSON, createdAt string
	if err := scan(
		&rec.ID, &rec.Question, &stepsJSON, &rec.Result, &rec.Rating,
		&rec.Success, &rec.ExecutionTime, &rec.TaskType, &keywordsJSON, &createdAt,
	); err != nil {
		return ExecutionRecord{}, err
	}
	if err := finishRecord(&rec, stepsJSON, keywordsJSON, createdAt); err != nil {
		return ExecutionRecord{}, err
	}
	return rec, nil
}

func finishRecord(rec *ExecutionRecord, stepsJSON, keywordsJSON, createdAt string) error {
	if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
		return fmt.Errorf("unmarshalling steps for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return fmt.Errorf("unmarshalling keywords for %s: %w", rec.ID, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = t
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
