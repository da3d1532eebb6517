package matching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

// countingSource records every lookup it serves.
type countingSource struct {
	mu     sync.Mutex
	calls    map[domain.Genotype]int
	versions map[string]int
	values map[domain.Genotype]decimal.Decimal
	fail   map[domain.Genotype]error
}

func newCountingSource() *countingSource {
	return &countingSource{
		calls:    make(map[domain.Genotype]int),
		versions: make(map[string]int),
		values:   make(map[domain.Genotype]decimal.Decimal),
		fail:     make(map[domain.Genotype]error),
	}
}

func (s *countingSource) GenotypeLikelihood(_ context.Context, g domain.Genotype, version string) (domain.GenotypeLikelihood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[g]++
	s.versions[version]++
	if err, ok := s.fail[g]; ok {
		return decimal.Zero, err
	}
	if v, ok := s.values[g]; ok {
		return v, nil
	}
	return decimal.RequireFromString("0.1"), nil
}

func (s *countingSource) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func TestGenotypeLikelihoodAggregator_OneLookupPerDistinctGenotype(t *testing.T) {
	aggregator := NewGenotypeLikelihoodAggregator(nil)
	source := newCountingSource()

	variants := genotypeVariants(t, 6)
	patients := domain.NewGenotypeSet(variants[0], variants[1], variants[2], variants[3])
	donors := domain.NewGenotypeSet(variants[2], variants[3], variants[4], variants[5])

	likelihoods, err := aggregator.Aggregate(context.Background(), patients, donors, source, "3.44.0")
	require.NoError(t, err)

	union := patients.Union(donors)
	assert.Len(t, union, 6)
	assert.Len(t, likelihoods, len(union))
	assert.Equal(t, len(union), source.totalCalls())
	for g := range union {
		assert.Equal(t, 1, source.calls[g], "genotype %s", g)
		assert.True(t, likelihoods[g].Equal(decimal.RequireFromString("0.1")))
	}
	assert.Equal(t, map[string]int{"3.44.0": 6}, source.versions)
}

func TestGenotypeLikelihoodAggregator_IdenticalPopulations(t *testing.T) {
	aggregator := NewGenotypeLikelihoodAggregator(nil)
	source := newCountingSource()
	population := domain.NewGenotypeSet(genotypeVariants(t, 3)...)

	likelihoods, err := aggregator.Aggregate(context.Background(), population, population, source, "3.44.0")
	require.NoError(t, err)
	assert.Len(t, likelihoods, 3)
	assert.Equal(t, 3, source.totalCalls())
}

func TestGenotypeLikelihoodAggregator_Empty(t *testing.T) {
	aggregator := NewGenotypeLikelihoodAggregator(nil)
	source := newCountingSource()

	likelihoods, err := aggregator.Aggregate(context.Background(), nil, domain.GenotypeSet{}, source, "3.44.0")
	require.NoError(t, err)
	assert.Empty(t, likelihoods)
	assert.Zero(t, source.totalCalls())
}

func TestGenotypeLikelihoodAggregator_SourceFailure(t *testing.T) {
	aggregator := NewGenotypeLikelihoodAggregator(nil)
	source := newCountingSource()
	variants := genotypeVariants(t, 3)
	boom := errors.New("frequency set unavailable")
	source.fail[variants[1]] = boom

	_, err := aggregator.Aggregate(context.Background(), domain.NewGenotypeSet(variants...), nil, source, "3.44.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestGenotypeLikelihoodAggregator_RejectsNegative(t *testing.T) {
	aggregator := NewGenotypeLikelihoodAggregator(nil)
	source := newCountingSource()
	g := fiveLocusGenotype(t, "")
	source.values[g] = decimal.RequireFromString("-0.5")

	_, err := aggregator.Aggregate(context.Background(), domain.NewGenotypeSet(g), nil, source, "3.44.0")
	assert.ErrorIs(t, err, domain.ErrInvalidLikelihood)
}
