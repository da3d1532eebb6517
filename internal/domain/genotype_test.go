package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGenotype(a1 string) Genotype {
	return MustGenotype(map[Locus]AllelePair{
		LocusA:    {Position1: a1, Position2: "02:01"},
		LocusDRB1: {Position1: "03:01", Position2: "15:01"},
	})
}

func TestGenotype(t *testing.T) {
	g := sampleGenotype("01:01")

	assert.Equal(t, "A*01:01+A*02:01^DRB1*03:01+DRB1*15:01", g.String())
	assert.Equal(t, AllelePair{Position1: "01:01", Position2: "02:01"}, g.Alleles(LocusA))
	assert.True(t, g.LocusTyping(LocusB).IsUntyped())
	assert.Equal(t, "15:01", *g.LocusTyping(LocusDRB1).Position2)
	assert.Len(t, g.Typing(), 2)

	assert.Equal(t, g, sampleGenotype("01:01"), "genotypes compare by value")
	assert.NotEqual(t, g, sampleGenotype("03:01"))

	_, err := NewGenotype(map[Locus]AllelePair{"DRB4": {Position1: "01:01", Position2: "01:01"}})
	assert.ErrorIs(t, err, ErrUnknownLocus)
}

func TestGenotype_JSON(t *testing.T) {
	g := sampleGenotype("01:01")

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"A": {"position1": "01:01", "position2": "02:01"},
		"DRB1": {"position1": "03:01", "position2": "15:01"}
	}`, string(data))

	var decoded Genotype
	require.NoError(t, json.Unmarshal([]byte(`{"hla-a": {"position1": "01:01", "position2": "02:01"}, "DRB1": {"position1": "03:01", "position2": "15:01"}}`), &decoded))
	assert.Equal(t, g, decoded)
}

func TestGenotypeSet(t *testing.T) {
	g1, g2 := sampleGenotype("01:01"), sampleGenotype("03:01")
	set := NewGenotypeSet(g2, g1, g2)

	assert.Len(t, set, 2)
	assert.True(t, set.Contains(g1))
	assert.Equal(t, []Genotype{g1, g2}, set.Slice(), "Slice is ordered by string form")

	union := set.Union(NewGenotypeSet(sampleGenotype("11:01")))
	assert.Len(t, union, 3)
	assert.Len(t, set, 2)

	data, err := json.Marshal(set)
	require.NoError(t, err)
	var decoded GenotypeSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, set, decoded)
}

func TestNewSubjectGenotypePopulation(t *testing.T) {
	g1, g2, outsider := sampleGenotype("01:01"), sampleGenotype("03:01"), sampleGenotype("11:01")
	population := NewSubjectGenotypePopulation(NewGenotypeSet(g1, g2), GenotypeLikelihoods{
		g1:       decimal.RequireFromString("0.1"),
		g2:       decimal.RequireFromString("0.2"),
		outsider: decimal.RequireFromString("0.7"),
	})

	assert.True(t, population.SumOfLikelihoods.Equal(decimal.RequireFromString("0.3")), "got %s", population.SumOfLikelihoods)
	assert.Equal(t, 2, population.GenotypeCount)
	assert.False(t, population.IsUnrepresented)
	assert.NotContains(t, population.Likelihoods, outsider)

	empty := NewSubjectGenotypePopulation(nil, nil)
	assert.True(t, empty.IsUnrepresented)
	assert.True(t, empty.SumOfLikelihoods.IsZero())
	assert.NotNil(t, empty.Genotypes)
}
