package matching

import (
	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// GenotypePairMatcher finds the patient and donor genotype pairs that fully match.
type GenotypePairMatcher struct {
	aggregator *CrossLocusAggregator[string]
	logger     *logrus.Logger
}

// NewGenotypePairMatcher creates a pair matcher scoring resolved genotypes under policy.
func NewGenotypePairMatcher(policy domain.UntypedLocusPolicy, logger *logrus.Logger) *GenotypePairMatcher {
	return &GenotypePairMatcher{
		aggregator: NewAlleleNameAggregator(policy),
		logger:     logger,
	}
}

type pairChunk struct {
	pairs []domain.MatchingPair
	err   error
}

// PairsWithFullMatch evaluates every patient x donor combination and keeps those matching at
// every considered locus. Pairs are evaluated in parallel over chunks of patient genotypes; the
// order of the result carries no meaning.
func (m *GenotypePairMatcher) PairsWithFullMatch(patients, donors domain.GenotypeSet, loci domain.LocusSet) ([]domain.MatchingPair, error) {
	if len(patients) == 0 || len(donors) == 0 {
		return []domain.MatchingPair{}, nil
	}

	patientList := patients.Slice()
	donorList := donors.Slice()
	considered := loci.Loci()

	result := parallel.RangeReduce(0, len(patientList), 0, func(low, high int) interface{} {
		chunk := pairChunk{}
		for _, patient := range patientList[low:high] {
			for _, donor := range donorList {
				profile, err := m.aggregator.aggregateFast(patient, donor, loci, considered)
				if err != nil {
					chunk.err = err
					return chunk
				}
				if profile.IsFullMatch() {
					chunk.pairs = append(chunk.pairs, domain.MatchingPair{Patient: patient, Donor: donor})
				}
			}
		}
		return chunk
	}, func(left, right interface{}) interface{} {
		l := left.(pairChunk)
		r := right.(pairChunk)
		if l.err == nil {
			l.err = r.err
		}
		l.pairs = append(l.pairs, r.pairs...)
		return l
	}).(pairChunk)

	if result.err != nil {
		return nil, result.err
	}
	if result.pairs == nil {
		result.pairs = []domain.MatchingPair{}
	}

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"patient_genotypes": len(patientList),
			"donor_genotypes":   len(donorList),
			"pairs_evaluated":   len(patientList) * len(donorList),
			"matching_pairs":    len(result.pairs),
			"loci":              loci.String(),
		}).Debug("Evaluated genotype pairs for full match")
	}

	return result.pairs, nil
}
