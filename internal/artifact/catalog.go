package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// catalogFile is the SQLite database name inside the store root. The leading
// dot keeps it out of the artifact name space.
const catalogFile = ".catalog.db"

const timeLayout = time.RFC3339Nano

// catalog records runs, artifact versions, aliases and usages.
type catalog struct {
	db *sql.DB
}

func openCatalog(path string) (*catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	c := &catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

func (c *catalog) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			started_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_versions (
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL,
			size INTEGER NOT NULL,
			digest TEXT NOT NULL,
			run_id TEXT NOT NULL REFERENCES runs(id),
			created_at TEXT NOT NULL,
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_aliases (
			name TEXT NOT NULL,
			alias TEXT NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (name, alias),
			FOREIGN KEY (name, version) REFERENCES artifact_versions(name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS artifact_usages (
			run_id TEXT NOT NULL REFERENCES runs(id),
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			used_at TEXT NOT NULL,
			FOREIGN KEY (name, version) REFERENCES artifact_versions(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usages_run ON artifact_usages(run_id)`,
		`CREATE TABLE IF NOT EXISTS artifact_productions (
			run_id TEXT NOT NULL REFERENCES runs(id),
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			produced_at TEXT NOT NULL,
			PRIMARY KEY (run_id, name, version),
			FOREIGN KEY (name, version) REFERENCES artifact_versions(name, version)
		)`,
	}
	for _, m := range migrations {
		if _, err := c.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalog) insertRun(ctx context.Context, run *Run) error {
	cfg := run.Config
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding run config: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_type, config_json, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET job_type = excluded.job_type, config_json = excluded.config_json`,
		run.ID, run.JobType, string(cfgJSON), run.StartedAt.UTC().Format(timeLayout),
	)
	return err
}

func (c *catalog) getRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var cfgJSON, startedAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT id, job_type, config_json, started_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.JobType, &cfgJSON, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run %q", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("decoding run config: %w", err)
	}
	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	return run, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func resolveVersion(ctx context.Context, q queryer, ref Ref) (int, error) {
	if ref.Version > 0 {
		return ref.Version, nil
	}
	var version int
	err := q.QueryRowContext(ctx,
		`SELECT version FROM artifact_aliases WHERE name = ? AND alias = ?`,
		ref.Name, ref.Qualifier(),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("%s", ref)
	}
	return version, err
}

const versionColumns = `name, version, type, description, file_name, size, digest, run_id, created_at`

func scanVersion(scan func(dest ...any) error) (*Artifact, error) {
	a := &Artifact{}
	var createdAt string
	if err := scan(&a.Name, &a.Version, &a.Type, &a.Description, &a.FileName,
		&a.Size, &a.Digest, &a.RunID, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return a, nil
}

func getVersion(ctx context.Context, q queryer, name string, version int) (*Artifact, error) {
	a, err := scanVersion(q.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM artifact_versions WHERE name = ? AND version = ?`,
		name, version,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("%s:v%d", name, version)
	}
	if err != nil {
		return nil, err
	}
	if a.Aliases, err = aliasesOf(ctx, q, name, version); err != nil {
		return nil, err
	}
	return a, nil
}

func aliasesOf(ctx context.Context, q queryer, name string, version int) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT alias FROM artifact_aliases WHERE name = ? AND version = ? ORDER BY alias`,
		name, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

func (c *catalog) listVersions(ctx context.Context, name string) ([]*Artifact, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM artifact_versions WHERE name = ? ORDER BY version`, name,
	)
	if err != nil {
		return nil, err
	}
	var out []*Artifact
	for rows.Next() {
		a, err := scanVersion(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Aliases are loaded after the cursor is released: the pool holds one connection.
	for _, a := range out {
		if a.Aliases, err = aliasesOf(ctx, c.db, a.Name, a.Version); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *catalog) recordUsage(ctx context.Context, runID string, a *Artifact, at time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifact_usages (run_id, name, version, used_at) VALUES (?, ?, ?, ?)`,
		runID, a.Name, a.Version, at.UTC().Format(timeLayout),
	)
	return err
}

// usages returns the artifact versions consumed by a run as "name:vN".
func (c *catalog) usages(ctx context.Context, runID string) ([]string, error) {
	return c.runVersions(ctx,
		`SELECT name, version FROM artifact_usages WHERE run_id = ? ORDER BY used_at`, runID)
}

// productions returns the artifact versions logged by a run as "name:vN".
func (c *catalog) productions(ctx context.Context, runID string) ([]string, error) {
	return c.runVersions(ctx,
		`SELECT name, version FROM artifact_productions WHERE run_id = ? ORDER BY produced_at`, runID)
}

func (c *catalog) runVersions(ctx context.Context, query, runID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		var version int
		if err := rows.Scan(&name, &version); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s:v%d", name, version))
	}
	return out, rows.Err()
}

func insertVersion(ctx context.Context, tx *sql.Tx, a *Artifact) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO artifact_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Version, a.Type, a.Description, a.FileName, a.Size, a.Digest, a.RunID,
		a.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// recordProduction links a run to a version it logged. Logging the same
// version twice from one run is recorded once.
func recordProduction(ctx context.Context, tx *sql.Tx, runID string, a *Artifact, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO artifact_productions (run_id, name, version, produced_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, name, version) DO NOTHING`,
		runID, a.Name, a.Version, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording production of %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	return nil
}

func setAliases(ctx context.Context, tx *sql.Tx, name string, version int, aliases []string) error {
	for _, alias := range aliases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifact_aliases (name, alias, version) VALUES (?, ?, ?)
			 ON CONFLICT(name, alias) DO UPDATE SET version = excluded.version`,
			name, alias, version,
		); err != nil {
			return fmt.Errorf("setting alias %s: %w", alias, err)
		}
	}
	return nil
}

func nextVersion(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM artifact_versions WHERE name = ?`, name,
	).Scan(&latest); err != nil {
		return 0, err
	}
	return int(latest.Int64) + 1, nil
}

func uniqueAliases(extra []string) []string {
	out := []string{DefaultAlias}
	seen := map[string]bool{DefaultAlias: true}
	for _, a := range extra {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
