package matching

import (
	"github.com/hla-match-prediction/internal/domain"
)

// CrossLocusAggregator applies MatchCount across a set of loci.
type CrossLocusAggregator[T any] struct {
	overlap OverlapFunc[T]
	policy  domain.UntypedLocusPolicy
}

// NewCrossLocusAggregator creates an aggregator with an explicit untyped locus policy.
func NewCrossLocusAggregator[T any](overlap OverlapFunc[T], policy domain.UntypedLocusPolicy) *CrossLocusAggregator[T] {
	return &CrossLocusAggregator[T]{overlap: overlap, policy: policy}
}

// NewAlleleGroupAggregator aggregates typings at allele-group resolution.
func NewAlleleGroupAggregator(policy domain.UntypedLocusPolicy) *CrossLocusAggregator[domain.AlleleGroupSet] {
	return NewCrossLocusAggregator[domain.AlleleGroupSet](AlleleGroupOverlap, policy)
}

// NewAlleleNameAggregator aggregates resolved genotypes.
func NewAlleleNameAggregator(policy domain.UntypedLocusPolicy) *CrossLocusAggregator[string] {
	return NewCrossLocusAggregator[string](AlleleNameOverlap, policy)
}

// Policy returns the untyped locus policy the aggregator applies.
func (a *CrossLocusAggregator[T]) Policy() domain.UntypedLocusPolicy {
	return a.policy
}

// Aggregate scores every considered locus and returns a complete profile.
func (a *CrossLocusAggregator[T]) Aggregate(patient, donor domain.LocusTyper[T], loci domain.LocusSet) (*domain.MatchProfile, error) {
	profile := domain.NewMatchProfile(loci)
	for _, l := range loci.Loci() {
		count, err := MatchCount(patient.LocusTyping(l), donor.LocusTyping(l), a.overlap, a.policy)
		if err != nil {
			return nil, &domain.LocusTypingError{Locus: l, Err: err}
		}
		profile.Record(l, count)
	}
	profile.MarkComplete()
	return profile, nil
}

// AggregateFast validates every considered locus, then scores loci in enumeration order and
// stops at the first locus below a full match, since a full match is then impossible. The
// returned profile agrees with Aggregate on IsFullMatch and on every error.
func (a *CrossLocusAggregator[T]) AggregateFast(patient, donor domain.LocusTyper[T], loci domain.LocusSet) (*domain.MatchProfile, error) {
	return a.aggregateFast(patient, donor, loci, loci.Loci())
}

func (a *CrossLocusAggregator[T]) aggregateFast(patient, donor domain.LocusTyper[T], considered domain.LocusSet, loci []domain.Locus) (*domain.MatchProfile, error) {
	for _, l := range loci {
		if err := validateLocus(patient.LocusTyping(l), donor.LocusTyping(l), a.policy); err != nil {
			return nil, &domain.LocusTypingError{Locus: l, Err: err}
		}
	}

	profile := domain.NewMatchProfile(considered)
	for _, l := range loci {
		count, err := MatchCount(patient.LocusTyping(l), donor.LocusTyping(l), a.overlap, a.policy)
		if err != nil {
			return nil, &domain.LocusTypingError{Locus: l, Err: err}
		}
		profile.Record(l, count)
		if count != domain.FullMatch {
			return profile, nil
		}
	}
	profile.MarkComplete()
	return profile, nil
}

// IsFullMatch reports whether every considered locus scores two matches, using fast evaluation.
func (a *CrossLocusAggregator[T]) IsFullMatch(patient, donor domain.LocusTyper[T], loci domain.LocusSet) (bool, error) {
	profile, err := a.AggregateFast(patient, donor, loci)
	if err != nil {
		return false, err
	}
	return profile.IsFullMatch(), nil
}
