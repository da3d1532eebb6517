package matching

import (
	"context"
	"fmt"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// GenotypeLikelihoodAggregator looks up the likelihood of every distinct genotype across two
// populations.
type GenotypeLikelihoodAggregator struct {
	logger *logrus.Logger
}

// NewGenotypeLikelihoodAggregator creates a likelihood aggregator.
func NewGenotypeLikelihoodAggregator(logger *logrus.Logger) *GenotypeLikelihoodAggregator {
	return &GenotypeLikelihoodAggregator{logger: logger}
}

// Aggregate queries source exactly once per genotype in the union of patients and donors,
// passing hlaNomenclatureVersion through unchanged. A genotype present in both populations is
// looked up once. Lookups run in parallel; the first failure, in deterministic genotype order,
// is returned.
func (a *GenotypeLikelihoodAggregator) Aggregate(ctx context.Context, patients, donors domain.GenotypeSet, source domain.LikelihoodSource, hlaNomenclatureVersion string) (domain.GenotypeLikelihoods, error) {
	union := patients.Union(donors).Slice()
	likelihoods := make(domain.GenotypeLikelihoods, len(union))
	if len(union) == 0 {
		return likelihoods, nil
	}

	values := make([]domain.GenotypeLikelihood, len(union))
	errs := make([]error, len(union))

	parallel.Range(0, len(union), 0, func(low, high int) {
		for i := low; i < high; i++ {
			values[i], errs[i] = source.GenotypeLikelihood(ctx, union[i], hlaNomenclatureVersion)
		}
	})

	for i, genotype := range union {
		if errs[i] != nil {
			return nil, domain.NewCollaboratorError(fmt.Sprintf("genotype likelihood for %s", genotype), errs[i])
		}
		if values[i].IsNegative() {
			return nil, fmt.Errorf("%w: %s has likelihood %s", domain.ErrInvalidLikelihood, genotype, values[i])
		}
		likelihoods[genotype] = values[i]
	}

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"patient_genotypes":  len(patients),
			"donor_genotypes":    len(donors),
			"distinct_genotypes": len(union),
			"hla_version":        hlaNomenclatureVersion,
		}).Debug("Aggregated genotype likelihoods")
	}

	return likelihoods, nil
}
