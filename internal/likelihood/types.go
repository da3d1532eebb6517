// Package likelihood stores precomputed genotype likelihoods so match probabilities can be
// calculated without a remote likelihood service. Likelihoods are partitioned by frequency
// set and HLA nomenclature version; a genotype absent from its partition has likelihood 0.
package likelihood

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hla-match-prediction/internal/domain"
)

// FormatVersion is written to exports and accepted on import.
const FormatVersion = "1.0"

// Scope identifies one partition of reference data.
type Scope struct {
	FrequencySet           string `json:"frequency_set"`
	HLANomenclatureVersion string `json:"hla_nomenclature_version"`
}

func (s Scope) validate() error {
	if s.FrequencySet == "" {
		return domain.NewValidationError("frequency_set", "frequency set is required", s.FrequencySet)
	}
	if s.HLANomenclatureVersion == "" {
		return domain.NewValidationError("hla_nomenclature_version", "HLA nomenclature version is required", s.HLANomenclatureVersion)
	}
	return nil
}

func (s Scope) String() string {
	return s.HLANomenclatureVersion + ":" + s.FrequencySet
}

// Entry is one stored genotype likelihood.
type Entry struct {
	Genotype   domain.Genotype `json:"genotype"`
	Likelihood decimal.Decimal `json:"likelihood"`
}

// ExportData is the JSON document read by Import and written by Export.
type ExportData struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at,omitempty"`
	Scope
	Count     int     `json:"count"`
	Genotypes []Entry `json:"genotypes"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Scope    Scope `json:"scope"`
	Imported int   `json:"imported"`
}

// Store defines the interface for likelihood storage operations.
type Store interface {
	// Put inserts or replaces entries within scope and returns how many were written.
	Put(ctx context.Context, scope Scope, entries []Entry) (int, error)

	// Likelihood returns the stored likelihood of genotype, or zero when it is absent.
	Likelihood(ctx context.Context, scope Scope, genotype domain.Genotype) (domain.GenotypeLikelihood, error)

	// Count returns the number of genotypes stored within scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// Import reads an ExportData document and stores its genotypes.
	Import(ctx context.Context, r io.Reader) (*ImportResult, error)

	// Export writes every genotype within scope as an ExportData document.
	Export(ctx context.Context, scope Scope, w io.Writer) error

	// Close closes the store.
	Close() error
}

// decodeImport parses and validates an import document.
func decodeImport(r io.Reader) (*ExportData, error) {
	var data ExportData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode import data: %w", err)
	}
	if data.Version != "" && data.Version != FormatVersion {
		return nil, domain.NewValidationError("version", "unsupported likelihood file version", data.Version)
	}
	if err := data.Scope.validate(); err != nil {
		return nil, err
	}
	for _, entry := range data.Genotypes {
		if err := validateEntry(entry); err != nil {
			return nil, err
		}
	}
	return &data, nil
}

func validateEntry(entry Entry) error {
	if entry.Likelihood.IsNegative() {
		return fmt.Errorf("%w: %s for %s", domain.ErrInvalidLikelihood, entry.Likelihood, entry.Genotype)
	}
	return nil
}

func encodeExport(w io.Writer, scope Scope, entries []Entry) error {
	data := ExportData{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Scope:      scope,
		Count:      len(entries),
		Genotypes:  entries,
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// genotypeKey is the stored lookup key for a genotype: its JSON encoding, which quotes every
// allele name and orders loci by name.
func genotypeKey(g domain.Genotype) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to encode genotype: %w", err)
	}
	return string(data), nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (Entry, error) {
	var genotypeJSON, likelihood string
	if err := s.Scan(&genotypeJSON, &likelihood); err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal([]byte(genotypeJSON), &entry.Genotype); err != nil {
		return Entry{}, fmt.Errorf("failed to decode stored genotype: %w", err)
	}
	value, err := decimal.NewFromString(likelihood)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to decode stored likelihood: %w", err)
	}
	entry.Likelihood = value
	return entry, nil
}

// Source adapts a store partition to domain.LikelihoodSource.
type Source struct {
	store Store
	scope Scope
}

// NewSource returns a LikelihoodSource reading scope from store. A lookup naming another
// nomenclature version reads that version's partition of the same frequency set.
func NewSource(store Store, scope Scope) *Source {
	return &Source{store: store, scope: scope}
}

// GenotypeLikelihood implements domain.LikelihoodSource.
func (s *Source) GenotypeLikelihood(ctx context.Context, genotype domain.Genotype, hlaNomenclatureVersion string) (domain.GenotypeLikelihood, error) {
	scope := s.scope
	if hlaNomenclatureVersion != "" {
		scope.HLANomenclatureVersion = hlaNomenclatureVersion
	}
	return s.store.Likelihood(ctx, scope, genotype)
}

// Namespace identifies the frequency set for cache keys.
func (s *Source) Namespace() string {
	return "store:" + s.scope.FrequencySet
}
