package likelihood

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/hla-match-prediction/internal/domain"
)

// PostgresSchema creates the table PostgresStore expects.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS genotype_likelihoods (
	frequency_set TEXT NOT NULL,
	hla_nomenclature_version TEXT NOT NULL,
	genotype_key TEXT NOT NULL,
	genotype JSONB NOT NULL,
	likelihood NUMERIC NOT NULL CHECK (likelihood >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (frequency_set, hla_nomenclature_version, genotype_key)
);
`

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL likelihood store.
// It expects the schema to already exist; see PostgresSchema and EnsureSchema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL likelihood store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the likelihood table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Put upserts entries in a single transaction.
func (s *PostgresStore) Put(ctx context.Context, scope Scope, entries []Entry) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO genotype_likelihoods (
			frequency_set, hla_nomenclature_version, genotype_key, genotype, likelihood, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (frequency_set, hla_nomenclature_version, genotype_key) DO UPDATE SET
			genotype = EXCLUDED.genotype,
			likelihood = EXCLUDED.likelihood,
			updated_at = EXCLUDED.updated_at
	`

	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return 0, err
		}
		key, err := genotypeKey(entry.Genotype)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query,
			scope.FrequencySet, scope.HLANomenclatureVersion,
			key, key, entry.Likelihood.String(),
		); err != nil {
			return 0, fmt.Errorf("failed to store %s: %w", entry.Genotype, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return len(entries), nil
}

// Likelihood returns the stored likelihood, or zero for an absent genotype.
func (s *PostgresStore) Likelihood(ctx context.Context, scope Scope, genotype domain.Genotype) (domain.GenotypeLikelihood, error) {
	key, err := genotypeKey(genotype)
	if err != nil {
		return decimal.Zero, err
	}
	var value string
	err = s.db.QueryRowContext(ctx, `
		SELECT likelihood::text FROM genotype_likelihoods
		WHERE frequency_set = $1 AND hla_nomenclature_version = $2 AND genotype_key = $3
	`, scope.FrequencySet, scope.HLANomenclatureVersion, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get likelihood: %w", err)
	}
	likelihood, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse stored likelihood %q: %w", value, err)
	}
	return likelihood, nil
}

// Count returns the number of genotypes within scope.
func (s *PostgresStore) Count(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM genotype_likelihoods WHERE frequency_set = $1 AND hla_nomenclature_version = $2",
		scope.FrequencySet, scope.HLANomenclatureVersion,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count likelihoods: %w", err)
	}
	return count, nil
}

// Import reads an ExportData document and stores its genotypes.
func (s *PostgresStore) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := decodeImport(r)
	if err != nil {
		return nil, err
	}
	imported, err := s.Put(ctx, data.Scope, data.Genotypes)
	if err != nil {
		return nil, err
	}
	return &ImportResult{Scope: data.Scope, Imported: imported}, nil
}

// Export writes every genotype within scope, ordered by genotype key.
func (s *PostgresStore) Export(ctx context.Context, scope Scope, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT genotype::text, likelihood::text FROM genotype_likelihoods
		WHERE frequency_set = $1 AND hla_nomenclature_version = $2
		ORDER BY genotype_key
	`, scope.FrequencySet, scope.HLANomenclatureVersion)
	if err != nil {
		return fmt.Errorf("failed to query likelihoods: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return encodeExport(w, scope, entries)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Open opens the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		store, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStoreFromURL(dsn)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported likelihood store driver: %s", driver)
	}
}
