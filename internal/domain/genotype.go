package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AllelePair is the pair of allele names at one locus of a genotype. An empty name is an
// absent position.
type AllelePair struct {
	Position1 string `json:"position1"`
	Position2 string `json:"position2"`
}

// Genotype is a fully resolved typing with allele names at every considered locus.
// Genotype is comparable: two genotypes are equal iff every locus and position holds the
// same name, which is what set membership and likelihood memoization key on.
type Genotype struct {
	alleles [locusCount]AllelePair
}

// NewGenotype builds a genotype from per-locus allele pairs. Unknown loci are rejected.
func NewGenotype(pairs map[Locus]AllelePair) (Genotype, error) {
	var g Genotype
	for l, pair := range pairs {
		i := l.index()
		if i < 0 {
			return Genotype{}, fmt.Errorf("%w: %q", ErrUnknownLocus, l)
		}
		g.alleles[i] = pair
	}
	return g, nil
}

// MustGenotype is NewGenotype for literals known to be valid.
func MustGenotype(pairs map[Locus]AllelePair) Genotype {
	g, err := NewGenotype(pairs)
	if err != nil {
		panic(err)
	}
	return g
}

// Alleles returns the allele pair at l.
func (g Genotype) Alleles(l Locus) AllelePair {
	i := l.index()
	if i < 0 {
		return AllelePair{}
	}
	return g.alleles[i]
}

// LocusTyping returns the typing at l at allele-name resolution.
func (g Genotype) LocusTyping(l Locus) LocusTyping[string] {
	pair := g.Alleles(l)
	var typing LocusTyping[string]
	if pair.Position1 != "" {
		p1 := pair.Position1
		typing.Position1 = &p1
	}
	if pair.Position2 != "" {
		p2 := pair.Position2
		typing.Position2 = &p2
	}
	return typing
}

// Typing returns the genotype as a phenotype typing, omitting untyped loci.
func (g Genotype) Typing() AlleleNameTyping {
	typing := make(AlleleNameTyping, locusCount)
	for i, l := range AllLoci {
		if g.alleles[i] == (AllelePair{}) {
			continue
		}
		typing[l] = g.LocusTyping(l)
	}
	return typing
}

// String renders the genotype as "A*01:01+A*02:01^B*...", loci in enumeration order.
func (g Genotype) String() string {
	parts := make([]string, 0, locusCount)
	for i, l := range AllLoci {
		pair := g.alleles[i]
		if pair == (AllelePair{}) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s*%s+%s*%s", l, pair.Position1, l, pair.Position2))
	}
	return strings.Join(parts, "^")
}

// MarshalJSON encodes the genotype as an object keyed by locus name.
func (g Genotype) MarshalJSON() ([]byte, error) {
	out := make(map[Locus]AllelePair, locusCount)
	for i, l := range AllLoci {
		if g.alleles[i] != (AllelePair{}) {
			out[l] = g.alleles[i]
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an object keyed by locus name.
func (g *Genotype) UnmarshalJSON(data []byte) error {
	var raw map[string]AllelePair
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pairs := make(map[Locus]AllelePair, len(raw))
	for name, pair := range raw {
		l, err := ParseLocus(name)
		if err != nil {
			return err
		}
		pairs[l] = pair
	}
	parsed, err := NewGenotype(pairs)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// GenotypeSet is a set of genotypes under value equality.
type GenotypeSet map[Genotype]struct{}

// NewGenotypeSet builds a set, dropping duplicates.
func NewGenotypeSet(genotypes ...Genotype) GenotypeSet {
	set := make(GenotypeSet, len(genotypes))
	for _, g := range genotypes {
		set[g] = struct{}{}
	}
	return set
}

// Add inserts g.
func (s GenotypeSet) Add(g Genotype) {
	s[g] = struct{}{}
}

// Contains reports whether g is in the set.
func (s GenotypeSet) Contains(g Genotype) bool {
	_, ok := s[g]
	return ok
}

// Slice returns the members ordered by their string form, so callers iterate deterministically.
func (s GenotypeSet) Slice() []Genotype {
	out := make([]Genotype, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Union returns a new set with the members of both sets.
func (s GenotypeSet) Union(other GenotypeSet) GenotypeSet {
	out := make(GenotypeSet, len(s)+len(other))
	for g := range s {
		out[g] = struct{}{}
	}
	for g := range other {
		out[g] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a deterministic array.
func (s GenotypeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of genotypes.
func (s *GenotypeSet) UnmarshalJSON(data []byte) error {
	var genotypes []Genotype
	if err := json.Unmarshal(data, &genotypes); err != nil {
		return err
	}
	*s = NewGenotypeSet(genotypes...)
	return nil
}

// GenotypeLikelihood is the relative population frequency of a genotype. It is never negative.
type GenotypeLikelihood = decimal.Decimal

// GenotypeLikelihoods maps each genotype to its likelihood.
type GenotypeLikelihoods map[Genotype]GenotypeLikelihood

// SubjectGenotypePopulation is the set of candidate genotypes for one subject together with
// their likelihoods. IsUnrepresented holds iff Genotypes is empty, in which case
// SumOfLikelihoods is zero.
type SubjectGenotypePopulation struct {
	Genotypes        GenotypeSet         `json:"-"`
	Likelihoods      GenotypeLikelihoods `json:"-"`
	SumOfLikelihoods decimal.Decimal     `json:"sum_of_likelihoods"`
	IsUnrepresented  bool                `json:"is_unrepresented"`
	GenotypeCount    int                 `json:"genotype_count"`
}

// NewSubjectGenotypePopulation builds a population and derives its sum, count and
// unrepresented flag. Likelihoods for genotypes outside the set are ignored; genotypes without
// a likelihood contribute zero to the sum.
func NewSubjectGenotypePopulation(genotypes GenotypeSet, likelihoods GenotypeLikelihoods) SubjectGenotypePopulation {
	if genotypes == nil {
		genotypes = GenotypeSet{}
	}
	kept := make(GenotypeLikelihoods, len(genotypes))
	sum := decimal.Zero
	for g := range genotypes {
		if l, ok := likelihoods[g]; ok {
			kept[g] = l
			sum = sum.Add(l)
		}
	}
	return SubjectGenotypePopulation{
		Genotypes:        genotypes,
		Likelihoods:      kept,
		SumOfLikelihoods: sum,
		IsUnrepresented:  len(genotypes) == 0,
		GenotypeCount:    len(genotypes),
	}
}

// MatchingPair is a patient and a donor genotype that match at every considered locus.
type MatchingPair struct {
	Patient Genotype `json:"patient"`
	Donor   Genotype `json:"donor"`
}
