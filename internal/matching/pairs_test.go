package matching

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

func genotypeVariants(t testing.TB, n int) []domain.Genotype {
	out := make([]domain.Genotype, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fiveLocusGenotype(t, fmt.Sprintf("v%d", i)))
	}
	return out
}

func TestGenotypePairMatcher_FindsFullMatches(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, logger)

	shared := fiveLocusGenotype(t, "")
	onlyPatient := fiveLocusGenotype(t, "p")
	onlyDonor := fiveLocusGenotype(t, "d")

	patients := domain.NewGenotypeSet(shared, onlyPatient)
	donors := domain.NewGenotypeSet(shared, onlyDonor)

	pairs, err := matcher.PairsWithFullMatch(patients, donors, domain.DefaultMatchingLoci())
	require.NoError(t, err)

	require.Len(t, pairs, 1)
	assert.Equal(t, domain.MatchingPair{Patient: shared, Donor: shared}, pairs[0])

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, 4, entry.Data["pairs_evaluated"])
	assert.Equal(t, 1, entry.Data["matching_pairs"])
}

func TestGenotypePairMatcher_EvaluatesEveryPair(t *testing.T) {
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, nil)

	variants := genotypeVariants(t, 40)
	patients := domain.NewGenotypeSet(variants...)
	donors := domain.NewGenotypeSet(variants...)

	pairs, err := matcher.PairsWithFullMatch(patients, donors, domain.DefaultMatchingLoci())
	require.NoError(t, err)

	// Every variant matches only itself, including self-pairs across the two populations.
	require.Len(t, pairs, 40)
	seen := make(map[domain.MatchingPair]bool, len(pairs))
	for _, pair := range pairs {
		assert.Equal(t, pair.Patient, pair.Donor)
		assert.False(t, seen[pair], "duplicate pair %v", pair)
		seen[pair] = true
	}
}

func TestGenotypePairMatcher_SwappedPositionsMatch(t *testing.T) {
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, nil)
	patient := fiveLocusGenotype(t, "")
	donor := genotype(t, map[domain.Locus][2]string{
		domain.LocusA:    {"02:01", "01:01"},
		domain.LocusB:    {"08:01", "07:02"},
		domain.LocusC:    {"07:02", "07:01"},
		domain.LocusDQB1: {"06:02", "02:01"},
		domain.LocusDRB1: {"15:01", "03:01"},
	})

	pairs, err := matcher.PairsWithFullMatch(domain.NewGenotypeSet(patient), domain.NewGenotypeSet(donor), domain.DefaultMatchingLoci())
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestGenotypePairMatcher_LociFilter(t *testing.T) {
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, nil)
	patient := fiveLocusGenotype(t, "")
	donor := genotype(t, map[domain.Locus][2]string{
		domain.LocusA:    {"01:01", "02:01"},
		domain.LocusB:    {"07:02", "08:01"},
		domain.LocusC:    {"01:02", "03:04"},
		domain.LocusDQB1: {"02:01", "06:02"},
		domain.LocusDRB1: {"03:01", "15:01"},
	})

	pairs, err := matcher.PairsWithFullMatch(domain.NewGenotypeSet(patient), domain.NewGenotypeSet(donor), domain.DefaultMatchingLoci())
	require.NoError(t, err)
	assert.Empty(t, pairs)

	pairs, err = matcher.PairsWithFullMatch(domain.NewGenotypeSet(patient), domain.NewGenotypeSet(donor), domain.DefaultMatchingLoci().Without(domain.LocusC))
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestGenotypePairMatcher_EmptyPopulations(t *testing.T) {
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, nil)
	populated := domain.NewGenotypeSet(fiveLocusGenotype(t, ""))

	pairs, err := matcher.PairsWithFullMatch(domain.GenotypeSet{}, populated, domain.DefaultMatchingLoci())
	require.NoError(t, err)
	assert.Empty(t, pairs)

	pairs, err = matcher.PairsWithFullMatch(populated, nil, domain.DefaultMatchingLoci())
	require.NoError(t, err)
	assert.NotNil(t, pairs)
	assert.Empty(t, pairs)
}

func TestGenotypePairMatcher_PropagatesInvalidTyping(t *testing.T) {
	matcher := NewGenotypePairMatcher(domain.UntypedMatchesFully, nil)
	malformed := genotype(t, map[domain.Locus][2]string{
		domain.LocusA: {"01:01", ""},
	})

	_, err := matcher.PairsWithFullMatch(domain.NewGenotypeSet(malformed), domain.NewGenotypeSet(fiveLocusGenotype(t, "")), domain.DefaultMatchingLoci())
	assert.ErrorIs(t, err, domain.ErrInvalidLocusTyping)
}
