package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// LocusMatchCount is the number of matched positions at one locus: 0, 1 or 2.
type LocusMatchCount int

const (
	NoMatch     LocusMatchCount = 0
	SingleMatch LocusMatchCount = 1
	FullMatch   LocusMatchCount = 2
)

// MatchProfile holds per-locus match counts for a pair of typings. Loci outside the considered
// set have no count. A profile built by early-exit evaluation is incomplete: some considered
// loci were never scored, and such a profile never reports a full match.
type MatchProfile struct {
	considered LocusSet
	counts     map[Locus]LocusMatchCount
	complete   bool
}

// NewMatchProfile returns an empty profile over the considered loci.
func NewMatchProfile(considered LocusSet) *MatchProfile {
	return &MatchProfile{
		considered: considered,
		counts:     make(map[Locus]LocusMatchCount, considered.Len()),
	}
}

// Record stores the count for a considered locus. Counts for other loci are dropped.
func (p *MatchProfile) Record(l Locus, count LocusMatchCount) {
	if !p.considered.Contains(l) {
		return
	}
	p.counts[l] = count
}

// MarkComplete flags that every considered locus has been scored.
func (p *MatchProfile) MarkComplete() {
	p.complete = true
}

// Count returns the count at l; ok is false when l is not considered or was never scored.
func (p *MatchProfile) Count(l Locus) (count LocusMatchCount, ok bool) {
	count, ok = p.counts[l]
	return count, ok
}

// Considered returns the loci the profile covers.
func (p *MatchProfile) Considered() LocusSet {
	return p.considered
}

// IsComplete reports whether every considered locus was scored.
func (p *MatchProfile) IsComplete() bool {
	return p.complete
}

// IsFullMatch reports whether every considered locus scored two matches.
func (p *MatchProfile) IsFullMatch() bool {
	for _, l := range p.considered.Loci() {
		if count, ok := p.counts[l]; !ok || count != FullMatch {
			return false
		}
	}
	return true
}

// TotalMatchCount sums the recorded counts.
func (p *MatchProfile) TotalMatchCount() int {
	total := 0
	for _, count := range p.counts {
		total += int(count)
	}
	return total
}

// MismatchCount returns the number of mismatched positions across scored loci.
func (p *MatchProfile) MismatchCount() int {
	return 2*len(p.counts) - p.TotalMatchCount()
}

// MarshalJSON encodes the profile as locus -> count, with null for loci that are not considered.
func (p *MatchProfile) MarshalJSON() ([]byte, error) {
	out := make(map[Locus]*LocusMatchCount, locusCount)
	for _, l := range AllLoci {
		if count, ok := p.counts[l]; ok {
			c := count
			out[l] = &c
		} else {
			out[l] = nil
		}
	}
	return json.Marshal(out)
}

// PairMatchDetail is the locus-by-locus comparison of one patient and one donor genotype.
type PairMatchDetail struct {
	PatientGenotype Genotype      `json:"patient_genotype"`
	DonorGenotype   Genotype      `json:"donor_genotype"`
	Profile         *MatchProfile `json:"match_counts"`
}

// MatchProbabilityResult is the outcome of a match probability calculation.
type MatchProbabilityResult struct {
	RequestID         string                    `json:"request_id,omitempty"`
	Probability       decimal.Decimal           `json:"probability"`
	MatchingPairCount int                       `json:"matching_pair_count"`
	Patient           SubjectGenotypePopulation `json:"patient"`
	Donor             SubjectGenotypePopulation `json:"donor"`
	IsDegenerateMatch bool                      `json:"is_degenerate_match,omitempty"`
	HLANomenclature   string                    `json:"hla_nomenclature_version"`
	AllowedLoci       LocusSet                  `json:"allowed_loci"`
	ProcessingTime    time.Duration             `json:"processing_time_ns"`
}
