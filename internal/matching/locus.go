// Package matching implements the locus-level match counting algorithm and the genotype
// population operations built on it: cross-locus aggregation, full-match pairing, likelihood
// aggregation and the weighted match probability.
package matching

import (
	"fmt"

	"github.com/hla-match-prediction/internal/domain"
)

// OverlapFunc reports whether two position values match.
type OverlapFunc[T any] func(patient, donor T) bool

// AlleleGroupOverlap matches allele-group sets that share at least one group.
func AlleleGroupOverlap(patient, donor domain.AlleleGroupSet) bool {
	return patient.Intersects(donor)
}

// AlleleNameOverlap matches identical allele names.
func AlleleNameOverlap(patient, donor string) bool {
	return patient == donor
}

// MatchCount scores one locus. Positions are unordered, so the identity pairing and the swapped
// pairing are both scored and the better one wins. The result is symmetric in patient and donor.
func MatchCount[T any](patient, donor domain.LocusTyping[T], overlap OverlapFunc[T], policy domain.UntypedLocusPolicy) (domain.LocusMatchCount, error) {
	if patient.IsOneSided() || donor.IsOneSided() {
		return 0, domain.ErrInvalidLocusTyping
	}

	if patient.IsUntyped() || donor.IsUntyped() {
		return untypedCount(policy)
	}

	p1, p2 := *patient.Position1, *patient.Position2
	d1, d2 := *donor.Position1, *donor.Position2

	direct := indicator(overlap(p1, d1)) + indicator(overlap(p2, d2))
	cross := indicator(overlap(p1, d2)) + indicator(overlap(p2, d1))

	return domain.LocusMatchCount(max(direct, cross)), nil
}

func untypedCount(policy domain.UntypedLocusPolicy) (domain.LocusMatchCount, error) {
	switch policy {
	case domain.UntypedMatchesFully:
		return domain.FullMatch, nil
	case domain.UntypedTreatAsMismatch:
		return domain.NoMatch, nil
	case domain.UntypedThrow:
		return 0, domain.ErrUntypedLocus
	default:
		return 0, fmt.Errorf("unknown untyped locus policy %q", policy)
	}
}

// validateLocus applies the checks MatchCount would fail on, without scoring.
func validateLocus[T any](patient, donor domain.LocusTyping[T], policy domain.UntypedLocusPolicy) error {
	if patient.IsOneSided() || donor.IsOneSided() {
		return domain.ErrInvalidLocusTyping
	}
	if patient.IsUntyped() || donor.IsUntyped() {
		_, err := untypedCount(policy)
		return err
	}
	return nil
}

func indicator(b bool) int {
	if b {
		return 1
	}
	return 0
}
