package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/logging"
	"github.com/hla-match-prediction/internal/middleware"
	"github.com/hla-match-prediction/internal/service"
)

// SubjectRequest is a subject as sent over HTTP. Locus keys are parsed leniently, so "drb1" and
// "HLA-DRB1" both name DRB1.
type SubjectRequest struct {
	ID     string                                `json:"id,omitempty"`
	Typing map[string]domain.LocusTyping[string] `json:"typing"`
}

func (r SubjectRequest) toSubject(field string) (domain.SubjectTyping, error) {
	typing, err := domain.ParseAlleleNameTyping(r.Typing)
	if err != nil {
		return domain.SubjectTyping{}, domain.NewValidationError(field+".typing", err.Error(), nil)
	}
	return domain.SubjectTyping{ID: r.ID, Typing: typing}, nil
}

// MatchProbabilityRequest is the body of POST /api/v1/match-probability.
type MatchProbabilityRequest struct {
	Patient                SubjectRequest `json:"patient"`
	Donor                  SubjectRequest `json:"donor"`
	AllowedLoci            []string       `json:"allowed_loci,omitempty"`
	HLANomenclatureVersion string         `json:"hla_nomenclature_version,omitempty"`
}

// GenotypeMatchesRequest is the body of POST /api/v1/genotype-matches.
type GenotypeMatchesRequest struct {
	Patient                SubjectRequest `json:"patient"`
	Donor                  SubjectRequest `json:"donor"`
	PatientFrequencySet    string         `json:"patient_frequency_set,omitempty"`
	DonorFrequencySet      string         `json:"donor_frequency_set,omitempty"`
	AllowedLoci            []string       `json:"allowed_loci,omitempty"`
	HLANomenclatureVersion string         `json:"hla_nomenclature_version,omitempty"`
	// Limit stops enumeration after this many pairs; 0 returns as many as the server allows.
	Limit int `json:"limit,omitempty"`
}

// GenotypeMatchesResponse reports both imputed populations and the enumerated pairs.
type GenotypeMatchesResponse struct {
	RequestID  string                           `json:"request_id"`
	Patient    domain.SubjectGenotypePopulation `json:"patient"`
	Donor      domain.SubjectGenotypePopulation `json:"donor"`
	TotalPairs int                              `json:"total_pairs"`
	Returned   int                              `json:"returned"`
	Truncated  bool                             `json:"truncated"`
	Details    []domain.PairMatchDetail         `json:"details"`
}

func (s *Server) handleMatchProbability(c *gin.Context) {
	requestID := c.GetString(middleware.RequestIDKey)

	var req MatchProbabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	input, err := req.ToInput(requestID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.probability.CalculateMatchProbability(c.Request.Context(), input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ToInput validates the request and converts it to service input.
func (r MatchProbabilityRequest) ToInput(requestID string) (service.MatchProbabilityInput, error) {
	patient, err := r.Patient.toSubject("patient")
	if err != nil {
		return service.MatchProbabilityInput{}, err
	}
	donor, err := r.Donor.toSubject("donor")
	if err != nil {
		return service.MatchProbabilityInput{}, err
	}

	input := service.MatchProbabilityInput{
		RequestID:              requestID,
		Patient:                patient,
		Donor:                  donor,
		HLANomenclatureVersion: r.HLANomenclatureVersion,
	}
	if r.AllowedLoci != nil {
		loci, err := domain.ParseLocusSet(r.AllowedLoci)
		if err != nil {
			return service.MatchProbabilityInput{}, domain.NewValidationError("allowed_loci", err.Error(), r.AllowedLoci)
		}
		input.AllowedLoci = &loci
	}
	return input, nil
}

func (s *Server) handleGenotypeMatches(c *gin.Context) {
	requestID := c.GetString(middleware.RequestIDKey)
	matching := s.configManager.GetMatchingConfig()

	var req GenotypeMatchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}
	if req.Limit < 0 {
		s.writeError(c, domain.NewValidationError("limit", "must not be negative", req.Limit))
		return
	}

	patient, err := req.Patient.toSubject("patient")
	if err != nil {
		s.writeError(c, err)
		return
	}
	donor, err := req.Donor.toSubject("donor")
	if err != nil {
		s.writeError(c, err)
		return
	}

	names := matching.AllowedLoci
	if req.AllowedLoci != nil {
		names = req.AllowedLoci
	}
	loci, err := domain.ParseLocusSet(names)
	if err != nil {
		s.writeError(c, domain.NewValidationError("allowed_loci", err.Error(), names))
		return
	}

	input := service.GenotypeMatcherInput{
		Patient:                patient,
		Donor:                  donor,
		PatientFrequencySet:    firstNonEmpty(req.PatientFrequencySet, matching.FrequencySet),
		DonorFrequencySet:      firstNonEmpty(req.DonorFrequencySet, matching.FrequencySet),
		HLANomenclatureVersion: firstNonEmpty(req.HLANomenclatureVersion, matching.HLANomenclatureVersion),
		AllowedLoci:            loci,
	}

	result, err := s.matcher.MatchSubjects(c.Request.Context(), input)
	if err != nil {
		s.writeError(c, err)
		return
	}

	limit := effectiveLimit(req.Limit, matching.MaxPairDetails)
	details, err := result.Details.Collect(limit)
	if err != nil {
		s.writeError(c, err)
		return
	}

	total := result.Details.Len()
	c.JSON(http.StatusOK, GenotypeMatchesResponse{
		RequestID:  requestID,
		Patient:    result.Patient,
		Donor:      result.Donor,
		TotalPairs: total,
		Returned:   len(details),
		Truncated:  len(details) < total,
		Details:    details,
	})
}

// effectiveLimit applies the server cap to the requested limit; 0 means unbounded on either side.
func effectiveLimit(requested, max int) int {
	switch {
	case max <= 0:
		return requested
	case requested <= 0 || requested > max:
		return max
	default:
		return requested
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.ErrCodeValidation, domain.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case domain.ErrCodeCollaborator:
		return http.StatusBadGateway
	case domain.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status := statusFor(code)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}

	entry := logging.FromContext(c.Request.Context(), s.logger).WithError(err).WithField("code", code)
	if status >= http.StatusInternalServerError {
		entry.Error("Match request failed")
	} else {
		entry.Warn("Match request rejected")
	}

	details := ""
	var typingErr *domain.LocusTypingError
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &typingErr):
		details = typingErr.Subject + " " + string(typingErr.Locus)
	case errors.As(err, &validationErr):
		details = validationErr.Field
	}

	c.AbortWithStatusJSON(status, domain.NewServiceError(code, message, details, c.GetString(middleware.RequestIDKey)))
}
