package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/owid/chart-sync/internal/chartsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// EnvironmentStore implements the read-only Store contract against one
// environment's chart database. Only the tables the diff engine reads are
// queried: charts, chart_dimensions, variables, chart_slug_redirects, tags
// and chart_tags.
type EnvironmentStore struct {
	db   *sql.DB
	path string
}

// NewEnvironmentStore opens an environment database read-only. Environment
// databases belong to their admin applications; this tool never writes to
// them.
func NewEnvironmentStore(path string) (*EnvironmentStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open environment database: %w", err)
	}
	return &EnvironmentStore{db: db, path: path}, nil
}

// NewEnvironmentStoreFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewEnvironmentStoreFromDB(db *sql.DB) *EnvironmentStore {
	return &EnvironmentStore{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured SQLite connection.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func (s *EnvironmentStore) FetchEditedCharts(ctx context.Context, since time.Time, ids []int64) ([]chartsync.EditedChart, error) {
	query := `SELECT id, config, updated_at, last_edited_by_user_id FROM charts WHERE updated_at >= ?`
	args := []any{since}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		args = append(args, int64Args(ids)...)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching edited charts: %w", err)
	}
	defer rows.Close()

	var edited []chartsync.EditedChart
	for rows.Next() {
		var (
			e   chartsync.EditedChart
			raw []byte
		)
		if err := rows.Scan(&e.ID, &raw, &e.EditedAt, &e.EditedByUserID); err != nil {
			return nil, fmt.Errorf("scanning edited chart: %w", err)
		}
		cfg, err := chartsync.ParseConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("chart %d: %w", e.ID, err)
		}
		e.ConfigHash = chartsync.HashConfig(cfg)
		edited = append(edited, e)
	}
	return edited, rows.Err()
}

func (s *EnvironmentStore) FetchConfigHashes(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	query := `SELECT id, config FROM charts WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("fetching config hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[int64]string, len(ids))
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning config hash row: %w", err)
		}
		cfg, err := chartsync.ParseConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("chart %d: %w", id, err)
		}
		hashes[id] = chartsync.HashConfig(cfg)
	}
	return hashes, rows.Err()
}

func (s *EnvironmentStore) FetchChart(ctx context.Context, id int64) (*chartsync.Chart, error) {
	charts, err := s.FetchCharts(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return charts[id], nil
}

func (s *EnvironmentStore) FetchCharts(ctx context.Context, ids []int64) (map[int64]*chartsync.Chart, error) {
	if len(ids) == 0 {
		return map[int64]*chartsync.Chart{}, nil
	}
	query := `SELECT id, slug, config, created_at, updated_at, published_at, last_edited_by_user_id
		FROM charts WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("batch-loading charts: %w", err)
	}
	defer rows.Close()

	charts := make(map[int64]*chartsync.Chart, len(ids))
	for rows.Next() {
		var (
			c           chartsync.Chart
			raw         []byte
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.Slug, &raw, &c.CreatedAt, &c.UpdatedAt, &publishedAt, &c.LastEditedByUserID); err != nil {
			return nil, fmt.Errorf("scanning chart: %w", err)
		}
		cfg, err := chartsync.ParseConfig(raw)
		if err != nil {
			return nil, fmt.Errorf("chart %d: %w", c.ID, err)
		}
		c.Config = cfg
		if publishedAt.Valid {
			t := publishedAt.Time
			c.PublishedAt = &t
		}
		charts[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachDimensions(ctx, charts, ids); err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, charts, ids); err != nil {
		return nil, err
	}
	return charts, nil
}

func (s *EnvironmentStore) attachDimensions(ctx context.Context, charts map[int64]*chartsync.Chart, ids []int64) error {
	query := `SELECT cd.chart_id, cd.property, cd.variable_id, COALESCE(v.catalog_path, '')
		FROM chart_dimensions cd
		LEFT JOIN variables v ON v.id = cd.variable_id
		WHERE cd.chart_id IN (` + placeholders(len(ids)) + `)
		ORDER BY cd.chart_id, cd.dim_order`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("loading chart dimensions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chartID int64
			dim     chartsync.Dimension
		)
		if err := rows.Scan(&chartID, &dim.Property, &dim.VariableID, &dim.CatalogPath); err != nil {
			return fmt.Errorf("scanning chart dimension: %w", err)
		}
		if c := charts[chartID]; c != nil {
			c.Dimensions = append(c.Dimensions, dim)
		}
	}
	return rows.Err()
}

func (s *EnvironmentStore) attachTags(ctx context.Context, charts map[int64]*chartsync.Chart, ids []int64) error {
	query := `SELECT ct.chart_id, t.name
		FROM chart_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.chart_id IN (` + placeholders(len(ids)) + `)
		ORDER BY ct.chart_id, t.name`
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("loading chart tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chartID int64
			name    string
		)
		if err := rows.Scan(&chartID, &name); err != nil {
			return fmt.Errorf("scanning chart tag: %w", err)
		}
		if c := charts[chartID]; c != nil {
			c.Tags = append(c.Tags, name)
		}
	}
	return rows.Err()
}

func (s *EnvironmentStore) FetchEditedVariables(ctx context.Context, since time.Time, datasetPaths []string) ([]chartsync.EditedVariable, error) {
	query := `SELECT DISTINCT cd.chart_id, v.id, COALESCE(v.catalog_path, ''),
			v.data_checksum, v.metadata_checksum, v.data_edited_at, v.metadata_edited_at
		FROM chart_dimensions cd
		JOIN variables v ON v.id = cd.variable_id
		WHERE (v.data_edited_at >= ? OR v.metadata_edited_at >= ?)`
	args := []any{since, since}
	if len(datasetPaths) > 0 {
		clauses := make([]string, len(datasetPaths))
		for i, p := range datasetPaths {
			clauses[i] = `v.catalog_path LIKE ?`
			args = append(args, p+"%")
		}
		query += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}
	query += ` ORDER BY cd.chart_id, v.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching edited variables: %w", err)
	}
	defer rows.Close()

	var edited []chartsync.EditedVariable
	for rows.Next() {
		var (
			v              chartsync.EditedVariable
			dataCk, metaCk sql.NullString
		)
		if err := rows.Scan(&v.ChartID, &v.VariableID, &v.CatalogPath,
			&dataCk, &metaCk, &v.DataEditedAt, &v.MetadataEditedAt); err != nil {
			return nil, fmt.Errorf("scanning edited variable: %w", err)
		}
		v.DataChecksum = nullableString(dataCk)
		v.MetadataChecksum = nullableString(metaCk)
		edited = append(edited, v)
	}
	return edited, rows.Err()
}

const variableSelect = `SELECT id, COALESCE(catalog_path, ''),
	data_checksum, metadata_checksum, data_edited_at, metadata_edited_at FROM variables`

func (s *EnvironmentStore) FetchVariablesByCatalogPath(ctx context.Context, paths []string) (map[string]chartsync.Variable, error) {
	if len(paths) == 0 {
		return map[string]chartsync.Variable{}, nil
	}
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	query := variableSelect + ` WHERE catalog_path IN (` + placeholders(len(paths)) + `)`
	vars, err := s.queryVariables(ctx, query, args)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]chartsync.Variable, len(vars))
	for _, v := range vars {
		byPath[v.CatalogPath] = v
	}
	return byPath, nil
}

func (s *EnvironmentStore) FetchVariablesByID(ctx context.Context, ids []int64) (map[int64]chartsync.Variable, error) {
	if len(ids) == 0 {
		return map[int64]chartsync.Variable{}, nil
	}
	query := variableSelect + ` WHERE id IN (` + placeholders(len(ids)) + `)`
	vars, err := s.queryVariables(ctx, query, int64Args(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]chartsync.Variable, len(vars))
	for _, v := range vars {
		byID[v.ID] = v
	}
	return byID, nil
}

func (s *EnvironmentStore) queryVariables(ctx context.Context, query string, args []any) ([]chartsync.Variable, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching variables: %w", err)
	}
	defer rows.Close()

	var vars []chartsync.Variable
	for rows.Next() {
		var (
			v              chartsync.Variable
			dataCk, metaCk sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.CatalogPath, &dataCk, &metaCk, &v.DataEditedAt, &v.MetadataEditedAt); err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		v.DataChecksum = nullableString(dataCk)
		v.MetadataChecksum = nullableString(metaCk)
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func (s *EnvironmentStore) FetchVariableChecksums(ctx context.Context, chartIDs []int64) ([]chartsync.VariableChecksum, error) {
	if len(chartIDs) == 0 {
		return nil, nil
	}
	query := `SELECT cd.chart_id, COALESCE(v.catalog_path, ''), v.data_checksum, v.metadata_checksum
		FROM chart_dimensions cd
		JOIN variables v ON v.id = cd.variable_id
		WHERE cd.chart_id IN (` + placeholders(len(chartIDs)) + `)
		ORDER BY cd.chart_id, v.catalog_path`
	rows, err := s.db.QueryContext(ctx, query, int64Args(chartIDs)...)
	if err != nil {
		return nil, fmt.Errorf("fetching variable checksums: %w", err)
	}
	defer rows.Close()

	var checksums []chartsync.VariableChecksum
	for rows.Next() {
		var (
			c              chartsync.VariableChecksum
			dataCk, metaCk sql.NullString
		)
		if err := rows.Scan(&c.ChartID, &c.CatalogPath, &dataCk, &metaCk); err != nil {
			return nil, fmt.Errorf("scanning variable checksum: %w", err)
		}
		c.DataChecksum = nullableString(dataCk)
		c.MetadataChecksum = nullableString(metaCk)
		checksums = append(checksums, c)
	}
	return checksums, rows.Err()
}

func (s *EnvironmentStore) FetchSlugs(ctx context.Context) (map[string]struct{}, error) {
	query := `SELECT slug FROM charts UNION SELECT slug FROM chart_slug_redirects`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetching slugs: %w", err)
	}
	defer rows.Close()

	slugs := make(map[string]struct{})
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scanning slug: %w", err)
		}
		slugs[slug] = struct{}{}
	}
	return slugs, rows.Err()
}

func (s *EnvironmentStore) FetchChartTags(ctx context.Context, id int64) ([]string, error) {
	query := `SELECT t.name FROM chart_tags ct JOIN tags t ON t.id = ct.tag_id
		WHERE ct.chart_id = ? ORDER BY t.name`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("fetching chart tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// Path returns the database file path ("" for wrapped connections).
func (s *EnvironmentStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *EnvironmentStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// Compile-time check that EnvironmentStore implements the Store interface
var _ chartsync.Store = (*EnvironmentStore)(nil)
