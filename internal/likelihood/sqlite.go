package likelihood

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/hla-match-prediction/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite likelihood store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets concurrent readers proceed during an import
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS genotype_likelihoods (
		frequency_set TEXT NOT NULL,
		hla_nomenclature_version TEXT NOT NULL,
		genotype_key TEXT NOT NULL,
		genotype TEXT NOT NULL,
		likelihood TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (frequency_set, hla_nomenclature_version, genotype_key)
	);
	`

	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces entries in a single transaction.
func (s *SQLiteStore) Put(ctx context.Context, scope Scope, entries []Entry) (int, error) {
	if err := scope.validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO genotype_likelihoods (
			frequency_set, hla_nomenclature_version, genotype_key, genotype, likelihood, updated_at
		) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (frequency_set, hla_nomenclature_version, genotype_key) DO UPDATE SET
			genotype = excluded.genotype,
			likelihood = excluded.likelihood,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return 0, err
		}
		key, err := genotypeKey(entry.Genotype)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
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
func (s *SQLiteStore) Likelihood(ctx context.Context, scope Scope, genotype domain.Genotype) (domain.GenotypeLikelihood, error) {
	key, err := genotypeKey(genotype)
	if err != nil {
		return decimal.Zero, err
	}
	var value string
	err = s.db.QueryRowContext(ctx, `
		SELECT likelihood FROM genotype_likelihoods
		WHERE frequency_set = ? AND hla_nomenclature_version = ? AND genotype_key = ?
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
func (s *SQLiteStore) Count(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM genotype_likelihoods WHERE frequency_set = ? AND hla_nomenclature_version = ?",
		scope.FrequencySet, scope.HLANomenclatureVersion,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count likelihoods: %w", err)
	}
	return count, nil
}

// Import reads an ExportData document and stores its genotypes.
func (s *SQLiteStore) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
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
func (s *SQLiteStore) Export(ctx context.Context, scope Scope, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT genotype, likelihood FROM genotype_likelihoods
		WHERE frequency_set = ? AND hla_nomenclature_version = ?
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
