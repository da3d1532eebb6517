package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

func groups(names ...string) domain.AlleleGroupSet {
	return domain.NewAlleleGroupSet(names...)
}

func groupTyping(p1, p2 domain.AlleleGroupSet) domain.LocusTyping[domain.AlleleGroupSet] {
	return domain.NewLocusTyping(p1, p2)
}

func nameTyping(p1, p2 string) domain.LocusTyping[string] {
	return domain.NewLocusTyping(p1, p2)
}

func oneSided[T any](v T) domain.LocusTyping[T] {
	return domain.LocusTyping[T]{Position1: &v}
}

var allPolicies = []domain.UntypedLocusPolicy{
	domain.UntypedMatchesFully,
	domain.UntypedTreatAsMismatch,
	domain.UntypedThrow,
}

func TestMatchCount_AlleleGroups(t *testing.T) {
	tests := []struct {
		name     string
		patient  domain.LocusTyping[domain.AlleleGroupSet]
		donor    domain.LocusTyping[domain.AlleleGroupSet]
		expected domain.LocusMatchCount
	}{
		{
			name:     "direct match at position one only",
			patient:  groupTyping(groups("g1a", "g1b"), groups("g2")),
			donor:    groupTyping(groups("g1a"), groups("not-a-match")),
			expected: 1,
		},
		{
			name:     "pure cross match",
			patient:  groupTyping(groups("g1"), groups("g2")),
			donor:    groupTyping(groups("g2"), groups("g1")),
			expected: 2,
		},
		{
			name:     "direct match at both positions",
			patient:  groupTyping(groups("g1"), groups("g2")),
			donor:    groupTyping(groups("g1", "x"), groups("g2", "y")),
			expected: 2,
		},
		{
			name:     "no overlap",
			patient:  groupTyping(groups("g1"), groups("g2")),
			donor:    groupTyping(groups("g3"), groups("g4")),
			expected: 0,
		},
		{
			name:     "homozygous patient against one shared group",
			patient:  groupTyping(groups("g1"), groups("g1")),
			donor:    groupTyping(groups("g1"), groups("g9")),
			expected: 1,
		},
		{
			name:     "empty group sets never overlap",
			patient:  groupTyping(groups(), groups()),
			donor:    groupTyping(groups("g1"), groups("g2")),
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, policy := range allPolicies {
				count, err := MatchCount(tt.patient, tt.donor, AlleleGroupOverlap, policy)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, count, "policy %s", policy)
			}
		})
	}
}

func TestMatchCount_AlleleNames(t *testing.T) {
	tests := []struct {
		name     string
		patient  domain.LocusTyping[string]
		donor    domain.LocusTyping[string]
		expected domain.LocusMatchCount
	}{
		{"identical", nameTyping("01:01", "02:01"), nameTyping("01:01", "02:01"), 2},
		{"swapped", nameTyping("01:01", "02:01"), nameTyping("02:01", "01:01"), 2},
		{"one shared", nameTyping("01:01", "02:01"), nameTyping("03:01", "01:01"), 1},
		{"homozygous donor", nameTyping("01:01", "02:01"), nameTyping("01:01", "01:01"), 1},
		{"none shared", nameTyping("01:01", "02:01"), nameTyping("03:01", "04:01"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := MatchCount(tt.patient, tt.donor, AlleleNameOverlap, domain.UntypedThrow)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, count)
		})
	}
}

func TestMatchCount_UntypedPolicy(t *testing.T) {
	patient := nameTyping("01:01", "02:01")
	untyped := domain.LocusTyping[string]{}

	count, err := MatchCount(patient, untyped, AlleleNameOverlap, domain.UntypedMatchesFully)
	require.NoError(t, err)
	assert.Equal(t, domain.FullMatch, count)

	count, err = MatchCount(patient, untyped, AlleleNameOverlap, domain.UntypedTreatAsMismatch)
	require.NoError(t, err)
	assert.Equal(t, domain.NoMatch, count)

	_, err = MatchCount(patient, untyped, AlleleNameOverlap, domain.UntypedThrow)
	assert.ErrorIs(t, err, domain.ErrUntypedLocus)

	_, err = MatchCount(untyped, untyped, AlleleNameOverlap, domain.UntypedThrow)
	assert.ErrorIs(t, err, domain.ErrUntypedLocus)

	_, err = MatchCount(patient, untyped, AlleleNameOverlap, domain.UntypedLocusPolicy("bogus"))
	assert.Error(t, err)
}

func TestMatchCount_OneSidedAlwaysInvalid(t *testing.T) {
	typed := groupTyping(groups("g1"), groups("g2"))
	oneSidedTyping := oneSided(groups("g1"))
	untyped := domain.LocusTyping[domain.AlleleGroupSet]{}
	secondOnly := domain.LocusTyping[domain.AlleleGroupSet]{Position2: &domain.AlleleGroupSet{}}

	for _, policy := range allPolicies {
		for _, other := range []domain.LocusTyping[domain.AlleleGroupSet]{typed, untyped, oneSidedTyping} {
			_, err := MatchCount(oneSidedTyping, other, AlleleGroupOverlap, policy)
			assert.ErrorIs(t, err, domain.ErrInvalidLocusTyping, "patient one-sided, policy %s", policy)

			_, err = MatchCount(other, secondOnly, AlleleGroupOverlap, policy)
			assert.ErrorIs(t, err, domain.ErrInvalidLocusTyping, "donor one-sided, policy %s", policy)
		}
	}
}

func TestMatchCount_SymmetricAndBounded(t *testing.T) {
	values := []string{"a", "b", "c"}
	var typings []domain.LocusTyping[string]
	typings = append(typings, domain.LocusTyping[string]{})
	for _, v1 := range values {
		for _, v2 := range values {
			typings = append(typings, nameTyping(v1, v2))
		}
	}

	for _, policy := range []domain.UntypedLocusPolicy{domain.UntypedMatchesFully, domain.UntypedTreatAsMismatch} {
		for _, p := range typings {
			for _, d := range typings {
				forward, err := MatchCount(p, d, AlleleNameOverlap, policy)
				require.NoError(t, err)
				backward, err := MatchCount(d, p, AlleleNameOverlap, policy)
				require.NoError(t, err)

				assert.Equal(t, forward, backward)
				assert.GreaterOrEqual(t, int(forward), 0)
				assert.LessOrEqual(t, int(forward), 2)
			}
		}
	}
}
