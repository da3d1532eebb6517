package external

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/hla-match-prediction/internal/domain"
)

// HLAServices is the full collaborator surface of an HLA services deployment.
type HLAServices interface {
	domain.PhenotypeExpander
	domain.GenotypeImputer
	domain.LikelihoodSource
	domain.GenotypeConverter
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests uint32        `json:"max_requests"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	MinRequests uint32        `json:"min_requests"`
	// FailureRatio trips the breaker once at least MinRequests were seen.
	FailureRatio float64 `json:"failure_ratio"`
}

// ResilientHLAClient guards each HLA services endpoint with its own circuit breaker. Calls
// are never retried; an open breaker fails fast.
type ResilientHLAClient struct {
	client   HLAServices
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *logrus.Logger
}

// NewResilientHLAClient wraps client with one breaker per endpoint.
func NewResilientHLAClient(client HLAServices, config CircuitBreakerConfig, logger *logrus.Logger) *ResilientHLAClient {
	if config.MaxRequests == 0 {
		config.MaxRequests = 3
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MinRequests == 0 {
		config.MinRequests = 3
	}
	if config.FailureRatio == 0 {
		config.FailureRatio = 0.6
	}

	r := &ResilientHLAClient{
		client:   client,
		breakers: make(map[string]*gobreaker.CircuitBreaker, 4),
		logger:   logger,
	}
	for _, endpoint := range []string{EndpointExpand, EndpointImpute, EndpointLikelihood, EndpointConvert} {
		r.breakers[endpoint] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        endpoint,
			MaxRequests: config.MaxRequests,
			Interval:    config.Interval,
			Timeout:     config.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= config.MinRequests && failureRatio >= config.FailureRatio
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"breaker": name,
						"from":    from.String(),
						"to":      to.String(),
					}).Warn("Circuit breaker state changed")
				}
			},
			IsSuccessful: isBreakerSuccess,
		})
	}
	return r
}

// isBreakerSuccess keeps caller mistakes and cancellations from tripping a breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError &&
			statusErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func (r *ResilientHLAClient) execute(endpoint string, call func() (interface{}, error)) (interface{}, error) {
	result, err := r.breakers[endpoint].Execute(call)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("HLA services %s unavailable (circuit breaker open): %w", endpoint, err)
		}
		return nil, err
	}
	return result, nil
}

// ExpandAmbiguousPhenotype implements domain.PhenotypeExpander.
func (r *ResilientHLAClient) ExpandAmbiguousPhenotype(ctx context.Context, typing domain.AlleleNameTyping, hlaNomenclatureVersion string) (domain.GenotypeSet, error) {
	result, err := r.execute(EndpointExpand, func() (interface{}, error) {
		return r.client.ExpandAmbiguousPhenotype(ctx, typing, hlaNomenclatureVersion)
	})
	if err != nil {
		return nil, err
	}
	return result.(domain.GenotypeSet), nil
}

// ImputeGenotypes implements domain.GenotypeImputer.
func (r *ResilientHLAClient) ImputeGenotypes(ctx context.Context, req domain.ImputationRequest) (domain.SubjectGenotypePopulation, error) {
	result, err := r.execute(EndpointImpute, func() (interface{}, error) {
		return r.client.ImputeGenotypes(ctx, req)
	})
	if err != nil {
		return domain.SubjectGenotypePopulation{}, err
	}
	return result.(domain.SubjectGenotypePopulation), nil
}

// GenotypeLikelihood implements domain.LikelihoodSource.
func (r *ResilientHLAClient) GenotypeLikelihood(ctx context.Context, genotype domain.Genotype, hlaNomenclatureVersion string) (domain.GenotypeLikelihood, error) {
	result, err := r.execute(EndpointLikelihood, func() (interface{}, error) {
		return r.client.GenotypeLikelihood(ctx, genotype, hlaNomenclatureVersion)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(domain.GenotypeLikelihood), nil
}

// ConvertGenotypes implements domain.GenotypeConverter.
func (r *ResilientHLAClient) ConvertGenotypes(ctx context.Context, genotypes domain.GenotypeSet, hlaNomenclatureVersion string) (map[domain.Genotype]domain.AlleleGroupTyping, error) {
	result, err := r.execute(EndpointConvert, func() (interface{}, error) {
		return r.client.ConvertGenotypes(ctx, genotypes, hlaNomenclatureVersion)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[domain.Genotype]domain.AlleleGroupTyping), nil
}

// BreakerStates returns the current state of every endpoint breaker.
func (r *ResilientHLAClient) BreakerStates() map[string]gobreaker.State {
	states := make(map[string]gobreaker.State, len(r.breakers))
	for name, breaker := range r.breakers {
		states[name] = breaker.State()
	}
	return states
}
