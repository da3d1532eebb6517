package service

import (
	"context"
	"fmt"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// PairProfiler scores one patient/donor pair locus by locus. CrossLocusAggregator satisfies
// it at allele-group resolution.
type PairProfiler interface {
	Aggregate(patient, donor domain.LocusTyper[domain.AlleleGroupSet], loci domain.LocusSet) (*domain.MatchProfile, error)
}

// GenotypeMatcherInput describes a patient/donor pair to impute and cross-match.
type GenotypeMatcherInput struct {
	Patient                domain.SubjectTyping
	Donor                  domain.SubjectTyping
	PatientFrequencySet    string
	DonorFrequencySet      string
	HLANomenclatureVersion string
	AllowedLoci            domain.LocusSet
}

// GenotypeMatcherResult holds both imputed populations and the lazily computed pair details.
type GenotypeMatcherResult struct {
	Patient domain.SubjectGenotypePopulation
	Donor   domain.SubjectGenotypePopulation
	Details *PairMatchSequence
}

// GenotypeMatcher imputes both subjects and exposes the locus-by-locus comparison of every
// patient x donor genotype pair.
type GenotypeMatcher struct {
	imputer   domain.GenotypeImputer
	converter domain.GenotypeConverter
	profiler  PairProfiler
	logger    *logrus.Logger
}

// NewGenotypeMatcher creates a genotype matcher.
func NewGenotypeMatcher(imputer domain.GenotypeImputer, converter domain.GenotypeConverter, profiler PairProfiler, logger *logrus.Logger) *GenotypeMatcher {
	return &GenotypeMatcher{
		imputer:   imputer,
		converter: converter,
		profiler:  profiler,
		logger:    logger,
	}
}

type subjectFetch struct {
	population domain.SubjectGenotypePopulation
	typings    map[domain.Genotype]domain.AlleleGroupTyping
	err        error
}

// MatchSubjects imputes the patient and the donor concurrently, converts both populations to
// allele-group resolution and returns a pair sequence that computes nothing until pulled.
// A subject with no genotypes is flagged unrepresented; that is not an error.
func (m *GenotypeMatcher) MatchSubjects(ctx context.Context, input GenotypeMatcherInput) (*GenotypeMatcherResult, error) {
	startTime := time.Now()
	if input.AllowedLoci.Len() == 0 {
		return nil, domain.NewValidationError("allowed_loci", "at least one locus is required", input.AllowedLoci.String())
	}
	if err := ValidateTyping("patient", input.Patient.Typing); err != nil {
		return nil, err
	}
	if err := ValidateTyping("donor", input.Donor.Typing); err != nil {
		return nil, err
	}

	var patient, donor subjectFetch
	parallel.Do(
		func() { patient = m.fetchSubject(ctx, input.Patient, input.PatientFrequencySet, input) },
		func() { donor = m.fetchSubject(ctx, input.Donor, input.DonorFrequencySet, input) },
	)
	if patient.err != nil {
		return nil, fmt.Errorf("patient: %w", patient.err)
	}
	if donor.err != nil {
		return nil, fmt.Errorf("donor: %w", donor.err)
	}

	m.logger.WithFields(logrus.Fields{
		"patient_id":               input.Patient.ID,
		"donor_id":                 input.Donor.ID,
		"patient_genotypes":        patient.population.GenotypeCount,
		"donor_genotypes":          donor.population.GenotypeCount,
		"patient_is_unrepresented": patient.population.IsUnrepresented,
		"donor_is_unrepresented":   donor.population.IsUnrepresented,
		"fetch_time":               time.Since(startTime),
	}).Info("Imputed subject genotypes")

	return &GenotypeMatcherResult{
		Patient: patient.population,
		Donor:   donor.population,
		Details: newPairMatchSequence(
			patient.population.Genotypes.Slice(),
			donor.population.Genotypes.Slice(),
			patient.typings,
			donor.typings,
			input.AllowedLoci,
			m.profiler,
		),
	}, nil
}

func (m *GenotypeMatcher) fetchSubject(ctx context.Context, subject domain.SubjectTyping, frequencySet string, input GenotypeMatcherInput) subjectFetch {
	imputed, err := m.imputer.ImputeGenotypes(ctx, domain.ImputationRequest{
		Subject:                subject,
		FrequencySet:           frequencySet,
		HLANomenclatureVersion: input.HLANomenclatureVersion,
		AllowedLoci:            input.AllowedLoci,
	})
	if err != nil {
		return subjectFetch{err: domain.NewCollaboratorError("impute genotypes", err)}
	}

	population := domain.NewSubjectGenotypePopulation(imputed.Genotypes, imputed.Likelihoods)
	if population.IsUnrepresented {
		return subjectFetch{population: population, typings: map[domain.Genotype]domain.AlleleGroupTyping{}}
	}

	typings, err := m.converter.ConvertGenotypes(ctx, population.Genotypes, input.HLANomenclatureVersion)
	if err != nil {
		return subjectFetch{err: domain.NewCollaboratorError("convert genotypes", err)}
	}
	for g := range population.Genotypes {
		if _, ok := typings[g]; !ok {
			return subjectFetch{err: domain.NewCollaboratorError("convert genotypes", fmt.Errorf("no conversion returned for %s", g))}
		}
	}

	return subjectFetch{population: population, typings: typings}
}

// PairMatchSequence is a single-pass, pull-based sequence over every patient x donor pair.
// Each pair is profiled only when Next reaches it. A sequence cannot be rewound; call
// GenotypeMatcher.MatchSubjects again to enumerate afresh. It is not safe for concurrent use.
type PairMatchSequence struct {
	patients       []domain.Genotype
	donors         []domain.Genotype
	patientTypings map[domain.Genotype]domain.AlleleGroupTyping
	donorTypings   map[domain.Genotype]domain.AlleleGroupTyping
	loci           domain.LocusSet
	profiler       PairProfiler

	next    int
	current domain.PairMatchDetail
	err     error
}

func newPairMatchSequence(
	patients, donors []domain.Genotype,
	patientTypings, donorTypings map[domain.Genotype]domain.AlleleGroupTyping,
	loci domain.LocusSet,
	profiler PairProfiler,
) *PairMatchSequence {
	return &PairMatchSequence{
		patients:       patients,
		donors:         donors,
		patientTypings: patientTypings,
		donorTypings:   donorTypings,
		loci:           loci,
		profiler:       profiler,
	}
}

// Len returns the number of pairs the sequence yields, without computing any of them.
func (s *PairMatchSequence) Len() int {
	return len(s.patients) * len(s.donors)
}

// Next computes the next pair. It returns false when the sequence is exhausted or a pair failed
// to score; check Err afterwards.
func (s *PairMatchSequence) Next() bool {
	if s.err != nil || s.next >= s.Len() {
		return false
	}

	patient := s.patients[s.next/len(s.donors)]
	donor := s.donors[s.next%len(s.donors)]
	s.next++

	profile, err := s.profiler.Aggregate(s.patientTypings[patient], s.donorTypings[donor], s.loci)
	if err != nil {
		s.err = fmt.Errorf("pair %s / %s: %w", patient, donor, err)
		return false
	}

	s.current = domain.PairMatchDetail{
		PatientGenotype: patient,
		DonorGenotype:   donor,
		Profile:         profile,
	}
	return true
}

// Detail returns the pair computed by the last successful Next.
func (s *PairMatchSequence) Detail() domain.PairMatchDetail {
	return s.current
}

// Err returns the error that stopped the sequence, if any.
func (s *PairMatchSequence) Err() error {
	return s.err
}

// Collect pulls up to limit pairs; limit <= 0 pulls all of them.
func (s *PairMatchSequence) Collect(limit int) ([]domain.PairMatchDetail, error) {
	capacity := s.Len() - s.next
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	details := make([]domain.PairMatchDetail, 0, capacity)
	for (limit <= 0 || len(details) < limit) && s.Next() {
		details = append(details, s.Detail())
	}
	return details, s.Err()
}
