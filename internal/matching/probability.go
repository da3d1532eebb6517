package matching

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hla-match-prediction/internal/domain"
)

// MatchProbabilityCalculator turns matching pairs and genotype likelihoods into a probability.
type MatchProbabilityCalculator struct{}

// NewMatchProbabilityCalculator creates a calculator.
func NewMatchProbabilityCalculator() *MatchProbabilityCalculator {
	return &MatchProbabilityCalculator{}
}

// Calculate returns
//
//	Σ L(p)·L(d) over matching pairs / (Σ L(p) over patients · Σ L(d) over donors)
//
// in exact decimal arithmetic. The result is zero when the denominator is zero, which is the
// case whenever either population is empty. Every genotype referenced must have a
// likelihood.
//
// pairs is treated as a set: a repeated pair contributes once, and a pair whose patient or
// donor genotype is outside its population contributes nothing, so the result never
// exceeds 1.
func (c *MatchProbabilityCalculator) Calculate(patients, donors domain.GenotypeSet, pairs []domain.MatchingPair, likelihoods domain.GenotypeLikelihoods) (decimal.Decimal, error) {
	patientMass, err := populationMass(patients, likelihoods)
	if err != nil {
		return decimal.Zero, err
	}
	donorMass, err := populationMass(donors, likelihoods)
	if err != nil {
		return decimal.Zero, err
	}

	denominator := patientMass.Mul(donorMass)
	if denominator.IsZero() {
		return decimal.Zero, nil
	}

	numerator := decimal.Zero
	seen := make(map[domain.MatchingPair]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		if !patients.Contains(pair.Patient) || !donors.Contains(pair.Donor) {
			continue
		}
		lp, err := likelihoodOf(pair.Patient, likelihoods)
		if err != nil {
			return decimal.Zero, err
		}
		ld, err := likelihoodOf(pair.Donor, likelihoods)
		if err != nil {
			return decimal.Zero, err
		}
		numerator = numerator.Add(lp.Mul(ld))
	}

	return numerator.Div(denominator), nil
}

func populationMass(population domain.GenotypeSet, likelihoods domain.GenotypeLikelihoods) (decimal.Decimal, error) {
	sum := decimal.Zero
	for genotype := range population {
		l, err := likelihoodOf(genotype, likelihoods)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(l)
	}
	return sum, nil
}

func likelihoodOf(genotype domain.Genotype, likelihoods domain.GenotypeLikelihoods) (decimal.Decimal, error) {
	l, ok := likelihoods[genotype]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no likelihood for %s", domain.ErrInvalidLikelihood, genotype)
	}
	if l.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s has likelihood %s", domain.ErrInvalidLikelihood, genotype, l)
	}
	return l, nil
}
