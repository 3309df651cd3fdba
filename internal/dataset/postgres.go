package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/FairForge/datasetd/internal/policy"
)

// PostgresRepository stores dataset records in PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// PostgresConfig holds connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// NewPostgresRepository opens a connection pool and returns the repository.
func NewPostgresRepository(cfg PostgresConfig) (*PostgresRepository, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateTables creates the datasets table if it does not exist.
func (r *PostgresRepository) CreateTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS datasets (
		id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		title VARCHAR(1024) NOT NULL,
		editors TEXT[] NOT NULL DEFAULT '{}',
		viewers TEXT[] NOT NULL DEFAULT '{}',
		is_public BOOLEAN NOT NULL DEFAULT false,
		is_processing BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create datasets table: %w", err)
	}

	index := `CREATE INDEX IF NOT EXISTS idx_datasets_owner ON datasets (owner_id)`
	if _, err := r.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create owner index: %w", err)
	}

	return nil
}

// Create inserts a new dataset record.
func (r *PostgresRepository) Create(ctx context.Context, d *Dataset) error {
	query := `INSERT INTO datasets
		(id, owner_id, title, editors, viewers, is_public, is_processing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.OwnerID, d.Title,
		pq.Array(d.Visibility.Editors), pq.Array(d.Visibility.Viewers),
		d.Visibility.IsPublic, d.IsProcessing, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// FindByID retrieves one record, or ErrNotFound.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Dataset, error) {
	query := `SELECT id, owner_id, title, editors, viewers, is_public, is_processing, created_at, updated_at
		FROM datasets WHERE id = $1`

	d, err := scanDataset(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	return d, nil
}

// UpdateByID applies a partial update. Only fields set on the patch are
// written; the record's updated_at always advances.
func (r *PostgresRepository) UpdateByID(ctx context.Context, id string, p Patch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Editors != nil {
		add("editors", pq.Array(*p.Editors))
	}
	if p.Viewers != nil {
		add("viewers", pq.Array(*p.Viewers))
	}
	if p.IsPublic != nil {
		add("is_public", *p.IsPublic)
	}
	if p.IsProcessing != nil {
		add("is_processing", *p.IsProcessing)
	}

	query := "UPDATE datasets SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID removes the metadata record only; the caller is
// responsible for the backing object.
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner returns all datasets owned by the given user.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Dataset, error) {
	query := `SELECT id, owner_id, title, editors, viewers, is_public, is_processing, created_at, updated_at
		FROM datasets WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var datasets []*Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(row rowScanner) (*Dataset, error) {
	var d Dataset
	var editors, viewers pq.StringArray
	var isPublic bool
	err := row.Scan(&d.ID, &d.OwnerID, &d.Title, &editors, &viewers,
		&isPublic, &d.IsProcessing, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Visibility = policy.Visibility{
		Owner:    d.OwnerID,
		Editors:  editors,
		Viewers:  viewers,
		IsPublic: isPublic,
	}
	return &d, nil
}
