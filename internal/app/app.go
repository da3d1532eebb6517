// Package app assembles the match prediction services from configuration. Every entry point
// (HTTP server, MCP server, CLI) builds its dependencies through New.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/likelihood"
	"github.com/hla-match-prediction/internal/logging"
	"github.com/hla-match-prediction/internal/matching"
	"github.com/hla-match-prediction/internal/service"
	"github.com/hla-match-prediction/pkg/external"
)

// Options adjusts how New builds the application.
type Options struct {
	// ConfigFile is an explicit config path; empty searches the default locations.
	ConfigFile string
	// LogOutput overrides logging.output, e.g. "stderr" when stdout carries a protocol.
	LogOutput string
	// Services replaces the HTTP client for the HLA services, mainly in tests.
	Services external.HLAServices
}

// App holds the wired services and the resources they own.
type App struct {
	Config      *config.Manager
	Logger      *logrus.Logger
	Probability *service.MatchProbabilityService
	Matcher     *service.GenotypeMatcher
	Services    *external.ResilientHLAClient

	store   likelihood.Store
	redis   *redis.Client
	closers []func() error
}

// New loads and validates configuration and wires every service.
func New(ctx context.Context, opts Options) (*App, error) {
	manager, err := config.NewManagerWithFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg := manager.GetConfig()
	if opts.LogOutput != "" {
		cfg.Logging.Output = opts.LogOutput
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &App{Config: manager, Logger: logger}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Options) error {
	cfg := a.Config.GetConfig()

	services := opts.Services
	namespace := "remote:" + cfg.Matching.FrequencySet
	if services == nil {
		client := external.NewHLAServiceClient(external.HLAServiceConfigFrom(cfg.Collaborators, cfg.Matching), a.Logger)
		namespace = client.Namespace()
		services = client
	}
	a.Services = external.NewResilientHLAClient(services, external.CircuitBreakerConfig{
		Timeout:     cfg.Collaborators.BreakerTimeout,
		MinRequests: cfg.Collaborators.BreakerMinReqs,
	}, a.Logger)

	var source domain.LikelihoodSource = a.Services
	if cfg.Collaborators.LikelihoodSource == "store" {
		if err := a.Config.EnsureDataDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := likelihood.Open(ctx, cfg.LikelihoodStore.Driver, cfg.LikelihoodStore.DSN)
		if err != nil {
			return fmt.Errorf("failed to open likelihood store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

		scoped := likelihood.NewSource(store, a.StoreScope())
		namespace = scoped.Namespace()
		source = scoped
	}

	if cfg.Cache.Enabled {
		client, err := external.NewRedisClient(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		source = external.NewRedisLikelihoodCache(client, source, namespace, cfg.Cache.DefaultTTL, a.Logger)
	}
	if cfg.Cache.MemoryMaxItems > 0 {
		source = external.NewMemoryLikelihoodCache(source, cfg.Cache.MemoryMaxItems, cfg.Cache.MemoryTTL)
	}

	policy, err := a.Config.UntypedLocusPolicy()
	if err != nil {
		return err
	}
	loci, err := a.Config.AllowedLoci()
	if err != nil {
		return err
	}

	a.Probability = service.NewMatchProbabilityService(a.Services, source, policy, service.MatchProbabilityOptions{
		AllowedLoci:            loci,
		HLANomenclatureVersion: cfg.Matching.HLANomenclatureVersion,
	}, a.Logger)
	a.Matcher = service.NewGenotypeMatcher(a.Services, a.Services, matching.NewAlleleGroupAggregator(policy), a.Logger)

	a.Logger.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"likelihood_source": cfg.Collaborators.LikelihoodSource,
		"redis_cache":       cfg.Cache.Enabled,
		"allowed_loci":      loci.String(),
		"policy":            string(policy),
	}).Info("Match prediction services initialized")
	return nil
}

// StoreScope is the likelihood store partition matching the configured reference data.
func (a *App) StoreScope() likelihood.Scope {
	cfg := a.Config.GetMatchingConfig()
	return likelihood.Scope{
		FrequencySet:           cfg.FrequencySet,
		HLANomenclatureVersion: cfg.HLANomenclatureVersion,
	}
}

// OpenStore opens the configured likelihood store regardless of the likelihood source, for
// maintenance commands such as imports. The caller closes it.
func (a *App) OpenStore(ctx context.Context) (likelihood.Store, error) {
	cfg := a.Config.GetConfig()
	if err := a.Config.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return likelihood.Open(ctx, cfg.LikelihoodStore.Driver, cfg.LikelihoodStore.DSN)
}

// HealthChecks reports the dependencies worth probing from a health endpoint.
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"hla_services": func(context.Context) error {
			for endpoint, state := range a.Services.BreakerStates() {
				if state == gobreaker.StateOpen {
					return fmt.Errorf("circuit breaker open for %s", endpoint)
				}
			}
			return nil
		},
	}
	if a.redis != nil {
		checks["likelihood_cache"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.store != nil {
		scope := a.StoreScope()
		checks["likelihood_store"] = func(ctx context.Context) error {
			_, err := a.store.Count(ctx, scope)
			return err
		}
	}
	return checks
}

// Close releases every resource the application opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
