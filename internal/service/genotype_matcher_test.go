package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/matching"
)

func variant(suffix string) domain.Genotype {
	return domain.MustGenotype(map[domain.Locus]domain.AllelePair{
		domain.LocusA:    {Position1: "01:01" + suffix, Position2: "02:01"},
		domain.LocusB:    {Position1: "07:02", Position2: "08:01"},
		domain.LocusC:    {Position1: "07:01", Position2: "07:02"},
		domain.LocusDQB1: {Position1: "02:01", Position2: "06:02"},
		domain.LocusDRB1: {Position1: "03:01", Position2: "15:01"},
	})
}

func variants(n int) []domain.Genotype {
	out := make([]domain.Genotype, n)
	for i := range out {
		out[i] = variant(fmt.Sprintf("v%d", i))
	}
	return out
}

// fakeImputer serves populations keyed by subject ID.
type fakeImputer struct {
	mu          sync.Mutex
	populations map[string][]domain.Genotype
	failures    map[string]error
	requests    []domain.ImputationRequest
}

func (f *fakeImputer) ImputeGenotypes(_ context.Context, req domain.ImputationRequest) (domain.SubjectGenotypePopulation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err, ok := f.failures[req.Subject.ID]; ok {
		return domain.SubjectGenotypePopulation{}, err
	}
	genotypes := domain.NewGenotypeSet(f.populations[req.Subject.ID]...)
	likelihoods := make(domain.GenotypeLikelihoods, len(genotypes))
	for g := range genotypes {
		likelihoods[g] = decimal.RequireFromString("0.1")
	}
	return domain.NewSubjectGenotypePopulation(genotypes, likelihoods), nil
}

func (f *fakeImputer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// pGroupConverter maps each allele name to a single-member group named after it.
type pGroupConverter struct {
	calls atomic.Int32
	skip  map[domain.Genotype]bool
}

func (c *pGroupConverter) ConvertGenotypes(_ context.Context, genotypes domain.GenotypeSet, _ string) (map[domain.Genotype]domain.AlleleGroupTyping, error) {
	c.calls.Add(1)
	out := make(map[domain.Genotype]domain.AlleleGroupTyping, len(genotypes))
	for g := range genotypes {
		if c.skip[g] {
			continue
		}
		typing := domain.AlleleGroupTyping{}
		for _, l := range domain.AllLoci {
			pair := g.Alleles(l)
			if pair.Position1 == "" && pair.Position2 == "" {
				continue
			}
			typing[l] = domain.NewLocusTyping(domain.NewAlleleGroupSet(pair.Position1+"P"), domain.NewAlleleGroupSet(pair.Position2+"P"))
		}
		out[g] = typing
	}
	return out, nil
}

// countingProfiler counts per-pair profile computations.
type countingProfiler struct {
	calls atomic.Int64
	inner PairProfiler
}

func newCountingProfiler() *countingProfiler {
	return &countingProfiler{inner: matching.NewAlleleGroupAggregator(domain.UntypedMatchesFully)}
}

func (p *countingProfiler) Aggregate(patient, donor domain.LocusTyper[domain.AlleleGroupSet], loci domain.LocusSet) (*domain.MatchProfile, error) {
	p.calls.Add(1)
	return p.inner.Aggregate(patient, donor, loci)
}

func matcherInput() GenotypeMatcherInput {
	return GenotypeMatcherInput{
		Patient:                domain.SubjectTyping{ID: "patient-1"},
		Donor:                  domain.SubjectTyping{ID: "donor-1"},
		PatientFrequencySet:    "global",
		DonorFrequencySet:      "global",
		HLANomenclatureVersion: "3.44.0",
		AllowedLoci:            domain.DefaultMatchingLoci(),
	}
}

func TestGenotypeMatcher_PairsComputedOnlyWhenEnumerated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	v := variants(5)
	imputer := &fakeImputer{populations: map[string][]domain.Genotype{
		"patient-1": {v[0], v[1], v[2]},
		"donor-1":   {v[0], v[3]},
	}}
	profiler := newCountingProfiler()
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, profiler, logger)

	result, err := matcher.MatchSubjects(context.Background(), matcherInput())
	require.NoError(t, err)

	assert.Zero(t, profiler.calls.Load(), "no pair is computed before enumeration")
	assert.Equal(t, 6, result.Details.Len())
	assert.Zero(t, profiler.calls.Load(), "Len does not compute pairs")
	assert.Equal(t, 3, result.Patient.GenotypeCount)
	assert.Equal(t, 2, result.Donor.GenotypeCount)
	assert.True(t, result.Patient.SumOfLikelihoods.Equal(decimal.RequireFromString("0.3")))

	details, err := result.Details.Collect(0)
	require.NoError(t, err)
	assert.Len(t, details, 6)
	assert.EqualValues(t, 6, profiler.calls.Load())

	fullMatches := 0
	for _, detail := range details {
		assert.True(t, detail.Profile.IsComplete())
		if detail.Profile.IsFullMatch() {
			fullMatches++
			assert.Equal(t, detail.PatientGenotype, detail.DonorGenotype)
		}
	}
	assert.Equal(t, 1, fullMatches)

	assert.False(t, result.Details.Next(), "the sequence is single-pass")
	assert.EqualValues(t, 6, profiler.calls.Load())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Imputed subject genotypes", entry.Message)
	assert.Equal(t, "patient-1", entry.Data["patient_id"])
}

func TestGenotypeMatcher_AbandonedEnumerationStopsWork(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := variants(8)
	imputer := &fakeImputer{populations: map[string][]domain.Genotype{
		"patient-1": v[:4],
		"donor-1":   v[4:],
	}}
	profiler := newCountingProfiler()
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, profiler, logger)

	result, err := matcher.MatchSubjects(context.Background(), matcherInput())
	require.NoError(t, err)

	details, err := result.Details.Collect(3)
	require.NoError(t, err)
	assert.Len(t, details, 3)
	assert.EqualValues(t, 3, profiler.calls.Load())

	require.True(t, result.Details.Next())
	assert.EqualValues(t, 4, profiler.calls.Load())
}

func TestGenotypeMatcher_RecomputesOnNewCall(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := variants(2)
	imputer := &fakeImputer{populations: map[string][]domain.Genotype{
		"patient-1": {v[0]},
		"donor-1":   {v[0], v[1]},
	}}
	profiler := newCountingProfiler()
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, profiler, logger)

	for i := 0; i < 2; i++ {
		result, err := matcher.MatchSubjects(context.Background(), matcherInput())
		require.NoError(t, err)
		_, err = result.Details.Collect(0)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 4, profiler.calls.Load())
	assert.Equal(t, 4, imputer.calls())
}

func TestGenotypeMatcher_UnrepresentedSubject(t *testing.T) {
	logger, _ := test.NewNullLogger()
	imputer := &fakeImputer{populations: map[string][]domain.Genotype{
		"patient-1": variants(2),
	}}
	converter := &pGroupConverter{}
	matcher := NewGenotypeMatcher(imputer, converter, newCountingProfiler(), logger)

	result, err := matcher.MatchSubjects(context.Background(), matcherInput())
	require.NoError(t, err)

	assert.False(t, result.Patient.IsUnrepresented)
	assert.True(t, result.Donor.IsUnrepresented)
	assert.True(t, result.Donor.SumOfLikelihoods.IsZero())
	assert.Zero(t, result.Details.Len())
	assert.False(t, result.Details.Next())
	assert.NoError(t, result.Details.Err())
	assert.EqualValues(t, 1, converter.calls.Load(), "an empty population is not converted")
}

func TestGenotypeMatcher_ImputationFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	boom := errors.New("frequency set not found")
	imputer := &fakeImputer{
		populations: map[string][]domain.Genotype{"donor-1": variants(1)},
		failures:    map[string]error{"patient-1": boom},
	}
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, newCountingProfiler(), logger)

	_, err := matcher.MatchSubjects(context.Background(), matcherInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrCollaborator)
	assert.Contains(t, err.Error(), "patient")
	assert.Equal(t, 2, imputer.calls(), "the donor fetch still completes")
}

func TestGenotypeMatcher_MissingConversion(t *testing.T) {
	logger, _ := test.NewNullLogger()
	v := variants(2)
	imputer := &fakeImputer{populations: map[string][]domain.Genotype{
		"patient-1": v,
		"donor-1":   v,
	}}
	converter := &pGroupConverter{skip: map[domain.Genotype]bool{v[1]: true}}
	matcher := NewGenotypeMatcher(imputer, converter, newCountingProfiler(), logger)

	_, err := matcher.MatchSubjects(context.Background(), matcherInput())
	assert.ErrorIs(t, err, domain.ErrCollaborator)
}

func TestGenotypeMatcher_RequiresLoci(t *testing.T) {
	logger, _ := test.NewNullLogger()
	imputer := &fakeImputer{}
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, newCountingProfiler(), logger)

	input := matcherInput()
	input.AllowedLoci = domain.NewLocusSet()
	_, err := matcher.MatchSubjects(context.Background(), input)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "allowed_loci", validationErr.Field)
	assert.Zero(t, imputer.calls())
}

func TestGenotypeMatcher_PassesRequestToImputer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	imputer := &fakeImputer{}
	matcher := NewGenotypeMatcher(imputer, &pGroupConverter{}, newCountingProfiler(), logger)

	input := matcherInput()
	input.DonorFrequencySet = "eur"
	_, err := matcher.MatchSubjects(context.Background(), input)
	require.NoError(t, err)

	require.Len(t, imputer.requests, 2)
	frequencySets := map[string]string{}
	for _, req := range imputer.requests {
		frequencySets[req.Subject.ID] = req.FrequencySet
		assert.Equal(t, "3.44.0", req.HLANomenclatureVersion)
	}
	assert.Equal(t, map[string]string{"patient-1": "global", "donor-1": "eur"}, frequencySets)
}
