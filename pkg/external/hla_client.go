package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hla-match-prediction/internal/domain"
)

// HLA services endpoints, relative to the configured base URL.
const (
	EndpointExpand     = "expand"
	EndpointImpute     = "impute"
	EndpointLikelihood = "likelihood"
	EndpointConvert    = "convert"
)

// HLAServiceConfig represents configuration for the HLA services client
type HLAServiceConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key,omitempty"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
	// FrequencySet and HLANomenclatureVersion scope likelihood lookups.
	FrequencySet           string `json:"frequency_set"`
	HLANomenclatureVersion string `json:"hla_nomenclature_version"`
}

// HLAServiceConfigFrom builds a client configuration from the application config.
func HLAServiceConfigFrom(collaborators domain.CollaboratorsConfig, matching domain.MatchingConfig) HLAServiceConfig {
	return HLAServiceConfig{
		BaseURL:                collaborators.BaseURL,
		APIKey:                 collaborators.APIKey,
		Timeout:                collaborators.Timeout,
		RateLimit:              collaborators.RateLimit,
		FrequencySet:           matching.FrequencySet,
		HLANomenclatureVersion: matching.HLANomenclatureVersion,
	}
}

// HLAServiceClient talks JSON over HTTP to an HLA services deployment providing phenotype
// expansion, imputation, genotype likelihoods and allele-group conversion.
type HLAServiceClient struct {
	baseURL                string
	apiKey                 string
	frequencySet           string
	hlaNomenclatureVersion string
	httpClient             *http.Client
	rateLimit              *rate.Limiter
	logger                 *logrus.Logger
}

// NewHLAServiceClient creates a new HLA services client
func NewHLAServiceClient(config HLAServiceConfig, logger *logrus.Logger) *HLAServiceClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 50
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}

	return &HLAServiceClient{
		baseURL:                config.BaseURL,
		apiKey:                 config.APIKey,
		frequencySet:           config.FrequencySet,
		hlaNomenclatureVersion: config.HLANomenclatureVersion,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		logger:    logger,
	}
}

type expandRequest struct {
	Typing                 domain.AlleleNameTyping `json:"typing"`
	HLANomenclatureVersion string                  `json:"hla_nomenclature_version"`
}

type expandResponse struct {
	Genotypes []domain.Genotype `json:"genotypes"`
}

type weightedGenotype struct {
	Genotype   domain.Genotype `json:"genotype"`
	Likelihood decimal.Decimal `json:"likelihood"`
}

type imputeResponse struct {
	Genotypes []weightedGenotype `json:"genotypes"`
}

type likelihoodRequest struct {
	Genotype               domain.Genotype `json:"genotype"`
	FrequencySet           string          `json:"frequency_set"`
	HLANomenclatureVersion string          `json:"hla_nomenclature_version"`
}

type likelihoodResponse struct {
	Likelihood decimal.Decimal `json:"likelihood"`
}

type convertRequest struct {
	Genotypes              []domain.Genotype `json:"genotypes"`
	HLANomenclatureVersion string            `json:"hla_nomenclature_version"`
	TargetResolution       string            `json:"target_resolution"`
}

type convertedGenotype struct {
	Genotype domain.Genotype          `json:"genotype"`
	Typing   domain.AlleleGroupTyping `json:"typing"`
}

type convertResponse struct {
	Conversions []convertedGenotype `json:"conversions"`
}

// ExpandAmbiguousPhenotype returns every genotype the typing can stand for.
func (c *HLAServiceClient) ExpandAmbiguousPhenotype(ctx context.Context, typing domain.AlleleNameTyping, hlaNomenclatureVersion string) (domain.GenotypeSet, error) {
	var resp expandResponse
	if err := c.post(ctx, EndpointExpand, expandRequest{Typing: typing, HLANomenclatureVersion: hlaNomenclatureVersion}, &resp); err != nil {
		return nil, err
	}
	return domain.NewGenotypeSet(resp.Genotypes...), nil
}

// ImputeGenotypes returns the subject's likelihood-weighted genotype population.
func (c *HLAServiceClient) ImputeGenotypes(ctx context.Context, req domain.ImputationRequest) (domain.SubjectGenotypePopulation, error) {
	var resp imputeResponse
	if err := c.post(ctx, EndpointImpute, req, &resp); err != nil {
		return domain.SubjectGenotypePopulation{}, err
	}

	genotypes := make(domain.GenotypeSet, len(resp.Genotypes))
	likelihoods := make(domain.GenotypeLikelihoods, len(resp.Genotypes))
	for _, weighted := range resp.Genotypes {
		if weighted.Likelihood.IsNegative() {
			return domain.SubjectGenotypePopulation{}, fmt.Errorf("%w: %s for %s", domain.ErrInvalidLikelihood, weighted.Likelihood, weighted.Genotype)
		}
		genotypes.Add(weighted.Genotype)
		likelihoods[weighted.Genotype] = weighted.Likelihood
	}
	return domain.NewSubjectGenotypePopulation(genotypes, likelihoods), nil
}

// GenotypeLikelihood looks up one genotype in the configured frequency set. An empty
// version falls back to the configured one.
func (c *HLAServiceClient) GenotypeLikelihood(ctx context.Context, genotype domain.Genotype, hlaNomenclatureVersion string) (domain.GenotypeLikelihood, error) {
	if hlaNomenclatureVersion == "" {
		hlaNomenclatureVersion = c.hlaNomenclatureVersion
	}
	var resp likelihoodResponse
	req := likelihoodRequest{
		Genotype:               genotype,
		FrequencySet:           c.frequencySet,
		HLANomenclatureVersion: hlaNomenclatureVersion,
	}
	if err := c.post(ctx, EndpointLikelihood, req, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Likelihood, nil
}

// ConvertGenotypes converts genotypes to P-group resolution.
func (c *HLAServiceClient) ConvertGenotypes(ctx context.Context, genotypes domain.GenotypeSet, hlaNomenclatureVersion string) (map[domain.Genotype]domain.AlleleGroupTyping, error) {
	var resp convertResponse
	req := convertRequest{
		Genotypes:              genotypes.Slice(),
		HLANomenclatureVersion: hlaNomenclatureVersion,
		TargetResolution:       "P",
	}
	if err := c.post(ctx, EndpointConvert, req, &resp); err != nil {
		return nil, err
	}

	out := make(map[domain.Genotype]domain.AlleleGroupTyping, len(resp.Conversions))
	for _, conversion := range resp.Conversions {
		out[conversion.Genotype] = conversion.Typing
	}
	return out, nil
}

// Namespace identifies the frequency set likelihood lookups are scoped to. The nomenclature
// version varies per lookup.
func (c *HLAServiceClient) Namespace() string {
	return "remote:" + c.frequencySet
}

func (c *HLAServiceClient) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"duration": time.Since(startTime),
		}).Debug("HLA services call")
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// StatusError reports a non-200 response from the HLA services.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HLA services %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("HLA services %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
