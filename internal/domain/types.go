// Package domain contains the value types shared by the HLA match prediction pipeline:
// loci, locus typings at either allele-group or allele-name resolution, resolved genotypes,
// genotype populations and the match results derived from them.
//
// Every type here is an immutable, per-request value. Nothing in this package holds state
// across requests.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/willf/bitset"
)

// Locus identifies an HLA gene considered for matching.
type Locus string

const (
	LocusA    Locus = "A"
	LocusB    Locus = "B"
	LocusC    Locus = "C"
	LocusDPB1 Locus = "DPB1"
	LocusDQB1 Locus = "DQB1"
	LocusDRB1 Locus = "DRB1"
)

// locusCount is the number of loci known to the pipeline.
const locusCount = 6

// AllLoci lists every locus in the fixed enumeration order used for deterministic iteration.
var AllLoci = [locusCount]Locus{LocusA, LocusB, LocusC, LocusDPB1, LocusDQB1, LocusDRB1}

var ErrUnknownLocus = errors.New("unknown locus")

// index returns the position of the locus in AllLoci, or -1.
func (l Locus) index() int {
	for i, candidate := range AllLoci {
		if candidate == l {
			return i
		}
	}
	return -1
}

// IsValid reports whether l is one of the known loci.
func (l Locus) IsValid() bool {
	return l.index() >= 0
}

// ParseLocus parses a locus name case-insensitively, accepting an optional "HLA-" prefix.
func ParseLocus(s string) (Locus, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "HLA-")
	l := Locus(name)
	if !l.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownLocus, s)
	}
	return l, nil
}

// LocusSet is a set of loci. The zero value is an empty set.
type LocusSet struct {
	bits *bitset.BitSet
}

// NewLocusSet builds a set containing the given loci. Unknown loci are ignored.
func NewLocusSet(loci ...Locus) LocusSet {
	bits := bitset.New(locusCount)
	for _, l := range loci {
		if i := l.index(); i >= 0 {
			bits.Set(uint(i))
		}
	}
	return LocusSet{bits: bits}
}

// ParseLocusSet parses locus names into a set, failing on the first unknown name.
func ParseLocusSet(names []string) (LocusSet, error) {
	loci := make([]Locus, 0, len(names))
	for _, name := range names {
		l, err := ParseLocus(name)
		if err != nil {
			return LocusSet{}, err
		}
		loci = append(loci, l)
	}
	return NewLocusSet(loci...), nil
}

// AllLocusSet contains every known locus.
func AllLocusSet() LocusSet {
	return NewLocusSet(AllLoci[:]...)
}

// DefaultMatchingLoci is the usual 10/10 matching set, which leaves DPB1 out.
func DefaultMatchingLoci() LocusSet {
	return NewLocusSet(LocusA, LocusB, LocusC, LocusDQB1, LocusDRB1)
}

// Contains reports whether l is in the set.
func (s LocusSet) Contains(l Locus) bool {
	i := l.index()
	if s.bits == nil || i < 0 {
		return false
	}
	return s.bits.Test(uint(i))
}

// Len returns the number of loci in the set.
func (s LocusSet) Len() int {
	if s.bits == nil {
		return 0
	}
	return int(s.bits.Count())
}

// Loci returns the members in enumeration order.
func (s LocusSet) Loci() []Locus {
	loci := make([]Locus, 0, s.Len())
	if s.bits == nil {
		return loci
	}
	for i, ok := s.bits.NextSet(0); ok && i < locusCount; i, ok = s.bits.NextSet(i + 1) {
		loci = append(loci, AllLoci[i])
	}
	return loci
}

// Without returns a copy of the set with l removed.
func (s LocusSet) Without(l Locus) LocusSet {
	out := NewLocusSet(s.Loci()...)
	if i := l.index(); i >= 0 {
		out.bits.Clear(uint(i))
	}
	return out
}

func (s LocusSet) String() string {
	names := make([]string, 0, s.Len())
	for _, l := range s.Loci() {
		names = append(names, string(l))
	}
	return strings.Join(names, ",")
}

// MarshalJSON encodes the set as an array of locus names.
func (s LocusSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, s.Len())
	for _, l := range s.Loci() {
		names = append(names, string(l))
	}
	return json.Marshal(names)
}

// UnmarshalJSON decodes an array of locus names.
func (s *LocusSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseLocusSet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LocusPosition is one of the two chromosomal copies at a locus.
type LocusPosition int

const (
	PositionOne LocusPosition = 1
	PositionTwo LocusPosition = 2
)

// UntypedLocusPolicy decides how a wholly untyped locus scores against anything.
type UntypedLocusPolicy string

const (
	// UntypedMatchesFully scores an untyped side as two matches.
	UntypedMatchesFully UntypedLocusPolicy = "matches_fully"
	// UntypedTreatAsMismatch scores an untyped side as zero matches.
	UntypedTreatAsMismatch UntypedLocusPolicy = "treat_as_mismatch"
	// UntypedThrow rejects an untyped side with ErrUntypedLocus.
	UntypedThrow UntypedLocusPolicy = "throw"
)

// IsValid reports whether p is a known policy.
func (p UntypedLocusPolicy) IsValid() bool {
	switch p {
	case UntypedMatchesFully, UntypedTreatAsMismatch, UntypedThrow:
		return true
	default:
		return false
	}
}

// ParseUntypedLocusPolicy parses a policy name.
func ParseUntypedLocusPolicy(s string) (UntypedLocusPolicy, error) {
	p := UntypedLocusPolicy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown untyped locus policy %q", s)
	}
	return p, nil
}

// AlleleGroupSet is the set of allele groups (for example P groups) one position may resolve to.
// A non-nil empty set means "no group assigned", which is not the same as an untyped position.
type AlleleGroupSet map[string]struct{}

// NewAlleleGroupSet builds a set from group names.
func NewAlleleGroupSet(groups ...string) AlleleGroupSet {
	set := make(AlleleGroupSet, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
	}
	return set
}

// Contains reports whether group is in the set.
func (s AlleleGroupSet) Contains(group string) bool {
	_, ok := s[group]
	return ok
}

// Intersects reports whether s and other share at least one group.
func (s AlleleGroupSet) Intersects(other AlleleGroupSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for g := range small {
		if _, ok := large[g]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the group names in lexical order.
func (s AlleleGroupSet) Sorted() []string {
	groups := make([]string, 0, len(s))
	for g := range s {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// MarshalJSON encodes the set as a sorted array.
func (s AlleleGroupSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of group names.
func (s *AlleleGroupSet) UnmarshalJSON(data []byte) error {
	var groups []string
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}
	*s = NewAlleleGroupSet(groups...)
	return nil
}

// LocusTyping holds the two positions of one locus. Either both positions are present or
// both are absent; a one-sided typing is invalid input.
type LocusTyping[T any] struct {
	Position1 *T `json:"position1,omitempty"`
	Position2 *T `json:"position2,omitempty"`
}

// NewLocusTyping returns a typing with both positions present.
func NewLocusTyping[T any](position1, position2 T) LocusTyping[T] {
	return LocusTyping[T]{Position1: &position1, Position2: &position2}
}

// IsUntyped reports whether both positions are absent.
func (t LocusTyping[T]) IsUntyped() bool {
	return t.Position1 == nil && t.Position2 == nil
}

// IsOneSided reports whether exactly one position is present.
func (t LocusTyping[T]) IsOneSided() bool {
	return (t.Position1 == nil) != (t.Position2 == nil)
}

// At returns the value at a position, or nil when absent.
func (t LocusTyping[T]) At(p LocusPosition) *T {
	if p == PositionTwo {
		return t.Position2
	}
	return t.Position1
}

// LocusTyper exposes a typing per locus. Both PhenotypeTyping and Genotype implement it.
type LocusTyper[T any] interface {
	LocusTyping(l Locus) LocusTyping[T]
}

// PhenotypeTyping maps loci to their typing. A missing locus is untyped.
type PhenotypeTyping[T any] map[Locus]LocusTyping[T]

// LocusTyping returns the typing at l, untyped when absent.
func (p PhenotypeTyping[T]) LocusTyping(l Locus) LocusTyping[T] {
	return p[l]
}

// AlleleGroupTyping is a phenotype typed at allele-group resolution.
type AlleleGroupTyping = PhenotypeTyping[AlleleGroupSet]

// AlleleNameTyping is a phenotype typed with one allele name per position.
type AlleleNameTyping = PhenotypeTyping[string]

// ParseAlleleNameTyping builds a typing from loosely named loci, as received from callers.
func ParseAlleleNameTyping(raw map[string]LocusTyping[string]) (AlleleNameTyping, error) {
	typing := make(AlleleNameTyping, len(raw))
	for name, locusTyping := range raw {
		l, err := ParseLocus(name)
		if err != nil {
			return nil, err
		}
		typing[l] = locusTyping
	}
	return typing, nil
}
