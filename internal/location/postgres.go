package location

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists Location Records in Postgres. The UNIQUE constraint
// on normalized_name plus ON CONFLICT upserts give the atomic
// check-and-insert the resolver's determinism contract needs.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

const recordColumns = "name, normalized_name, depth_1, depth_2, depth_3, COALESCE(depth_4, ''), COALESCE(old_address, ''), COALESCE(new_address, ''), latitude, longitude"

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.Name, &rec.NormalizedName, &rec.Depth1, &rec.Depth2, &rec.Depth3,
		&rec.Depth4, &rec.OldAddress, &rec.NewAddress, &rec.Latitude, &rec.Longitude)
	return rec, err
}

func (s *PostgresStore) Get(ctx context.Context, normalized string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM locations WHERE normalized_name = $1
		UNION ALL
		SELECT `+recordColumns+` FROM locations l
		JOIN location_aliases a ON a.normalized_name = l.normalized_name
		WHERE a.alias = $1
		LIMIT 1`, normalized)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("looking up location %q: %w", normalized, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, rec Record) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO locations (name, normalized_name, depth_1, depth_2, depth_3, depth_4, old_address, new_address, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		ON CONFLICT (normalized_name) DO UPDATE SET
			depth_4     = COALESCE(locations.depth_4, EXCLUDED.depth_4),
			old_address = COALESCE(locations.old_address, EXCLUDED.old_address),
			new_address = COALESCE(locations.new_address, EXCLUDED.new_address)
		RETURNING `+recordColumns,
		rec.Name, rec.NormalizedName, rec.Depth1, rec.Depth2, rec.Depth3,
		rec.Depth4, rec.OldAddress, rec.NewAddress, rec.Latitude, rec.Longitude)
	stored, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("inserting location %q: %w", rec.NormalizedName, err)
	}
	return stored, nil
}

func (s *PostgresStore) AddAlias(ctx context.Context, alias, normalized string) error {
	if alias == normalized {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_aliases (alias, normalized_name)
		VALUES ($1, $2)
		ON CONFLICT (alias) DO NOTHING`, alias, normalized)
	if err != nil {
		return fmt.Errorf("adding alias %q: %w", alias, err)
	}
	return nil
}

func (s *PostgresStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT normalized_name FROM locations`)
	if err != nil {
		return nil, fmt.Errorf("listing location names: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
