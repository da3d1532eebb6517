package service

import (
	"context"
	"fmt"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/matching"
)

// MatchProbabilityInput is the caller-facing request for one patient/donor pair.
type MatchProbabilityInput struct {
	RequestID              string               `json:"request_id,omitempty"`
	Patient                domain.SubjectTyping `json:"patient"`
	Donor                  domain.SubjectTyping `json:"donor"`
	AllowedLoci            *domain.LocusSet     `json:"allowed_loci,omitempty"`
	HLANomenclatureVersion string               `json:"hla_nomenclature_version,omitempty"`
}

// MatchProbabilityOptions carries the defaults applied when a request leaves them out.
type MatchProbabilityOptions struct {
	AllowedLoci            domain.LocusSet
	HLANomenclatureVersion string
}

// MatchProbabilityService estimates the probability that a patient and donor are a full match.
type MatchProbabilityService struct {
	expander    domain.PhenotypeExpander
	likelihoods domain.LikelihoodSource
	pairs       *matching.GenotypePairMatcher
	aggregator  *matching.GenotypeLikelihoodAggregator
	calculator  *matching.MatchProbabilityCalculator
	options     MatchProbabilityOptions
	logger      *logrus.Logger
}

// NewMatchProbabilityService wires the matching core to its collaborators.
func NewMatchProbabilityService(
	expander domain.PhenotypeExpander,
	likelihoods domain.LikelihoodSource,
	policy domain.UntypedLocusPolicy,
	options MatchProbabilityOptions,
	logger *logrus.Logger,
) *MatchProbabilityService {
	return &MatchProbabilityService{
		expander:    expander,
		likelihoods: likelihoods,
		pairs:       matching.NewGenotypePairMatcher(policy, logger),
		aggregator:  matching.NewGenotypeLikelihoodAggregator(logger),
		calculator:  matching.NewMatchProbabilityCalculator(),
		options:     options,
		logger:      logger,
	}
}

// CalculateMatchProbability expands both typings and weighs the fully matching genotype pairs
// by their likelihoods. When neither typing expands to any genotype the result is 1 and no
// further collaborator is called.
func (s *MatchProbabilityService) CalculateMatchProbability(ctx context.Context, input MatchProbabilityInput) (*domain.MatchProbabilityResult, error) {
	startTime := time.Now()

	loci := s.options.AllowedLoci
	if input.AllowedLoci != nil {
		loci = *input.AllowedLoci
	}
	if loci.Len() == 0 {
		return nil, domain.NewValidationError("allowed_loci", "at least one locus is required", loci.String())
	}
	version := input.HLANomenclatureVersion
	if version == "" {
		version = s.options.HLANomenclatureVersion
	}

	if err := ValidateTyping("patient", input.Patient.Typing); err != nil {
		return nil, err
	}
	if err := ValidateTyping("donor", input.Donor.Typing); err != nil {
		return nil, err
	}

	var patients, donors domain.GenotypeSet
	var patientErr, donorErr error
	parallel.Do(
		func() { patients, patientErr = s.expander.ExpandAmbiguousPhenotype(ctx, input.Patient.Typing, version) },
		func() { donors, donorErr = s.expander.ExpandAmbiguousPhenotype(ctx, input.Donor.Typing, version) },
	)
	if patientErr != nil {
		return nil, fmt.Errorf("patient: %w", domain.NewCollaboratorError("expand phenotype", patientErr))
	}
	if donorErr != nil {
		return nil, fmt.Errorf("donor: %w", domain.NewCollaboratorError("expand phenotype", donorErr))
	}

	result := &domain.MatchProbabilityResult{
		RequestID:       input.RequestID,
		HLANomenclature: version,
		AllowedLoci:     loci,
	}

	if len(patients) == 0 && len(donors) == 0 {
		result.Probability = decimal.NewFromInt(1)
		result.IsDegenerateMatch = true
		result.Patient = domain.NewSubjectGenotypePopulation(domain.GenotypeSet{}, domain.GenotypeLikelihoods{})
		result.Donor = domain.NewSubjectGenotypePopulation(domain.GenotypeSet{}, domain.GenotypeLikelihoods{})
		result.ProcessingTime = time.Since(startTime)
		s.logResult(input, result)
		return result, nil
	}

	pairs, err := s.pairs.PairsWithFullMatch(patients, donors, loci)
	if err != nil {
		return nil, fmt.Errorf("failed to match genotype pairs: %w", err)
	}

	likelihoods, err := s.aggregator.Aggregate(ctx, patients, donors, s.likelihoods, version)
	if err != nil {
		return nil, fmt.Errorf("failed to collect genotype likelihoods: %w", err)
	}

	probability, err := s.calculator.Calculate(patients, donors, pairs, likelihoods)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate match probability: %w", err)
	}

	result.Probability = probability
	result.MatchingPairCount = len(pairs)
	result.Patient = domain.NewSubjectGenotypePopulation(patients, likelihoods)
	result.Donor = domain.NewSubjectGenotypePopulation(donors, likelihoods)
	result.ProcessingTime = time.Since(startTime)
	s.logResult(input, result)

	return result, nil
}

func (s *MatchProbabilityService) logResult(input MatchProbabilityInput, result *domain.MatchProbabilityResult) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"request_id":         input.RequestID,
		"patient_id":         input.Patient.ID,
		"donor_id":           input.Donor.ID,
		"probability":        result.Probability.String(),
		"matching_pairs":     result.MatchingPairCount,
		"patient_genotypes":  result.Patient.GenotypeCount,
		"donor_genotypes":    result.Donor.GenotypeCount,
		"degenerate":         result.IsDegenerateMatch,
		"processing_time_ms": result.ProcessingTime.Milliseconds(),
	}).Info("Calculated match probability")
}

// ValidateTyping rejects a typing keyed by an unknown locus, or in which any locus has exactly
// one position typed.
func ValidateTyping(subject string, typing domain.AlleleNameTyping) error {
	for l := range typing {
		if !l.IsValid() {
			return domain.NewValidationError(subject+".typing", "unknown locus", string(l))
		}
	}
	for _, l := range domain.AllLoci {
		if lt, ok := typing[l]; ok && lt.IsOneSided() {
			return &domain.LocusTypingError{Locus: l, Subject: subject, Err: domain.ErrInvalidLocusTyping}
		}
	}
	return nil
}
