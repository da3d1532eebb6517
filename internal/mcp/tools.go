package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/logging"
	"github.com/hla-match-prediction/internal/service"
)

// Tool names.
const (
	ToolCalculateMatchProbability = "calculate_match_probability"
	ToolMatchGenotypes            = "match_genotypes"
)

// defaultGenotypeLimit bounds match_genotypes output when neither the caller nor the server
// configuration does.
const defaultGenotypeLimit = 100

// SubjectParams is one subject as passed to a tool.
type SubjectParams struct {
	ID     string                                `json:"id,omitempty"`
	Typing map[string]domain.LocusTyping[string] `json:"typing"`
}

// CalculateMatchProbabilityParams defines parameters for calculate_match_probability
type CalculateMatchProbabilityParams struct {
	Patient                SubjectParams `json:"patient"`
	Donor                  SubjectParams `json:"donor"`
	AllowedLoci            []string      `json:"allowed_loci,omitempty"`
	HLANomenclatureVersion string        `json:"hla_nomenclature_version,omitempty"`
}

// MatchGenotypesParams defines parameters for match_genotypes
type MatchGenotypesParams struct {
	Patient                SubjectParams `json:"patient"`
	Donor                  SubjectParams `json:"donor"`
	PatientFrequencySet    string        `json:"patient_frequency_set,omitempty"`
	DonorFrequencySet      string        `json:"donor_frequency_set,omitempty"`
	AllowedLoci            []string      `json:"allowed_loci,omitempty"`
	HLANomenclatureVersion string        `json:"hla_nomenclature_version,omitempty"`
	Limit                  int           `json:"limit,omitempty"`
}

// MatchGenotypesResult is the structured output of match_genotypes.
type MatchGenotypesResult struct {
	Patient    domain.SubjectGenotypePopulation `json:"patient"`
	Donor      domain.SubjectGenotypePopulation `json:"donor"`
	TotalPairs int                              `json:"total_pairs"`
	Details    []domain.PairMatchDetail         `json:"details"`
}

func typingSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: "HLA typing keyed by locus (A, B, C, DPB1, DQB1, DRB1). Omit a locus to leave it untyped.",
		AdditionalProperties: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"position1": {Type: "string", Description: "Allele name or ambiguous code at position 1"},
				"position2": {Type: "string", Description: "Allele name or ambiguous code at position 2"},
			},
		},
	}
}

func subjectSchema(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "object",
		Description: description,
		Properties: map[string]*jsonschema.Schema{
			"id":     {Type: "string", Description: "Subject identifier, used for logging only"},
			"typing": typingSchema(),
		},
		Required: []string{"typing"},
	}
}

func lociSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: "Loci to match on; defaults to the server configuration",
		Items:       &jsonschema.Schema{Type: "string"},
	}
}

func calculateMatchProbabilityTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolCalculateMatchProbability,
		Description: "Calculate the probability that a patient and a donor are a full HLA match at the allowed loci, weighting every fully matching genotype pair by its population likelihood.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"patient":                  subjectSchema("Patient typing"),
				"donor":                    subjectSchema("Donor typing"),
				"allowed_loci":             lociSchema(),
				"hla_nomenclature_version": {Type: "string", Description: "HLA nomenclature version; defaults to the server configuration"},
			},
			Required: []string{"patient", "donor"},
		},
	}
}

func matchGenotypesTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolMatchGenotypes,
		Description: "Impute patient and donor genotypes and compare every genotype pair locus by locus at P-group resolution.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"patient":                  subjectSchema("Patient typing"),
				"donor":                    subjectSchema("Donor typing"),
				"patient_frequency_set":    {Type: "string"},
				"donor_frequency_set":      {Type: "string"},
				"allowed_loci":             lociSchema(),
				"hla_nomenclature_version": {Type: "string"},
				"limit":                    {Type: "integer", Description: "Maximum number of genotype pairs to return"},
			},
			Required: []string{"patient", "donor"},
		},
	}
}

// handleCalculateMatchProbability handles the calculate_match_probability tool invocation.
// The SDK decodes and schema-validates the arguments before the call.
func (s *Server) handleCalculateMatchProbability(ctx context.Context, _ *mcp.CallToolRequest, params CalculateMatchProbabilityParams) (*mcp.CallToolResult, any, error) {
	requestID := logging.NewRequestID()
	ctx = logging.WithRequestID(ctx, requestID)
	logger := logging.FromContext(ctx, s.logger).WithField("tool", ToolCalculateMatchProbability)
	logger.Info("Tool invoked")

	patient, err := params.Patient.toSubject("patient")
	if err != nil {
		return createErrorResult("Invalid patient typing", err), nil, nil
	}
	donor, err := params.Donor.toSubject("donor")
	if err != nil {
		return createErrorResult("Invalid donor typing", err), nil, nil
	}

	input := service.MatchProbabilityInput{
		RequestID:              requestID,
		Patient:                patient,
		Donor:                  donor,
		HLANomenclatureVersion: params.HLANomenclatureVersion,
	}
	if params.AllowedLoci != nil {
		loci, err := domain.ParseLocusSet(params.AllowedLoci)
		if err != nil {
			return createErrorResult("Invalid allowed_loci", err), nil, nil
		}
		input.AllowedLoci = &loci
	}

	result, err := s.probability.CalculateMatchProbability(ctx, input)
	if err != nil {
		logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn("Match probability calculation failed")
		return createErrorResult("Match probability calculation failed", err), nil, nil
	}

	summary := fmt.Sprintf("Match probability %s at loci %s (%d fully matching genotype pairs)",
		result.Probability.String(), result.AllowedLoci.String(), result.MatchingPairCount)
	if result.IsDegenerateMatch {
		summary += "; neither typing expanded to any genotype"
	}
	return createJSONResult(summary, result, result)
}

// handleMatchGenotypes handles the match_genotypes tool invocation.
func (s *Server) handleMatchGenotypes(ctx context.Context, _ *mcp.CallToolRequest, params MatchGenotypesParams) (*mcp.CallToolResult, any, error) {
	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	logger := logging.FromContext(ctx, s.logger).WithField("tool", ToolMatchGenotypes)
	logger.Info("Tool invoked")

	if params.Limit < 0 {
		return createErrorResult("Invalid parameters", fmt.Errorf("limit must not be negative")), nil, nil
	}

	patient, err := params.Patient.toSubject("patient")
	if err != nil {
		return createErrorResult("Invalid patient typing", err), nil, nil
	}
	donor, err := params.Donor.toSubject("donor")
	if err != nil {
		return createErrorResult("Invalid donor typing", err), nil, nil
	}

	names := s.matching.AllowedLoci
	if params.AllowedLoci != nil {
		names = params.AllowedLoci
	}
	loci, err := domain.ParseLocusSet(names)
	if err != nil {
		return createErrorResult("Invalid allowed_loci", err), nil, nil
	}

	result, err := s.matcher.MatchSubjects(ctx, service.GenotypeMatcherInput{
		Patient:                patient,
		Donor:                  donor,
		PatientFrequencySet:    orDefault(params.PatientFrequencySet, s.matching.FrequencySet),
		DonorFrequencySet:      orDefault(params.DonorFrequencySet, s.matching.FrequencySet),
		HLANomenclatureVersion: orDefault(params.HLANomenclatureVersion, s.matching.HLANomenclatureVersion),
		AllowedLoci:            loci,
	})
	if err != nil {
		logger.WithError(err).WithField("code", domain.ErrorCode(err)).Warn("Genotype matching failed")
		return createErrorResult("Genotype matching failed", err), nil, nil
	}

	details, err := result.Details.Collect(s.genotypeLimit(params.Limit))
	if err != nil {
		return createErrorResult("Genotype matching failed", err), nil, nil
	}

	logger.WithFields(logrus.Fields{
		"total_pairs": result.Details.Len(),
		"returned":    len(details),
	}).Info("Matched genotypes")

	summary := fmt.Sprintf("Compared %d of %d genotype pairs (%d patient x %d donor genotypes)",
		len(details), result.Details.Len(), result.Patient.GenotypeCount, result.Donor.GenotypeCount)
	payload := MatchGenotypesResult{
		Patient:    result.Patient,
		Donor:      result.Donor,
		TotalPairs: result.Details.Len(),
		Details:    details,
	}
	return createJSONResult(summary, payload, payload)
}

// genotypeLimit applies the configured cap, or defaultGenotypeLimit when none is set.
func (s *Server) genotypeLimit(requested int) int {
	limit := s.matching.MaxPairDetails
	if limit <= 0 {
		limit = defaultGenotypeLimit
	}
	if requested > 0 && requested < limit {
		return requested
	}
	return limit
}

func (p SubjectParams) toSubject(field string) (domain.SubjectTyping, error) {
	typing, err := domain.ParseAlleleNameTyping(p.Typing)
	if err != nil {
		return domain.SubjectTyping{}, domain.NewValidationError(field+".typing", err.Error(), nil)
	}
	return domain.SubjectTyping{ID: p.ID, Typing: typing}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// createJSONResult returns the summary and the indented JSON body as text content, with
// structured set as the structured result.
func createJSONResult(summary string, payload, structured interface{}) (*mcp.CallToolResult, any, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(body)},
		},
	}, structured, nil
}

// createErrorResult creates a standardized error result for tool calls
func createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}
	if code := domain.ErrorCode(err); err != nil && code != domain.ErrCodeInternalServer {
		errorText += fmt.Sprintf(" [%s]", code)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
