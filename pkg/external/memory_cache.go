package external

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hla-match-prediction/internal/domain"
)

// MemoryLikelihoodCache is an in-process, size-bounded read-through cache in front of a
// likelihood source, keyed by nomenclature version and genotype. Entries expire after the
// configured TTL. Failed lookups are not cached.
type MemoryLikelihoodCache struct {
	cache  *expirable.LRU[memoryKey, domain.GenotypeLikelihood]
	source domain.LikelihoodSource
}

type memoryKey struct {
	version  string
	genotype domain.Genotype
}

// NewMemoryLikelihoodCache wraps source with an LRU of at most maxItems entries.
func NewMemoryLikelihoodCache(source domain.LikelihoodSource, maxItems int, ttl time.Duration) *MemoryLikelihoodCache {
	if maxItems <= 0 {
		maxItems = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryLikelihoodCache{
		cache:  expirable.NewLRU[memoryKey, domain.GenotypeLikelihood](maxItems, nil, ttl),
		source: source,
	}
}

// GenotypeLikelihood returns the cached likelihood, looking it up on a miss.
func (c *MemoryLikelihoodCache) GenotypeLikelihood(ctx context.Context, genotype domain.Genotype, hlaNomenclatureVersion string) (domain.GenotypeLikelihood, error) {
	key := memoryKey{version: hlaNomenclatureVersion, genotype: genotype}
	if likelihood, ok := c.cache.Get(key); ok {
		return likelihood, nil
	}
	likelihood, err := c.source.GenotypeLikelihood(ctx, genotype, hlaNomenclatureVersion)
	if err != nil {
		return likelihood, err
	}
	c.cache.Add(key, likelihood)
	return likelihood, nil
}

// Len returns the number of cached entries.
func (c *MemoryLikelihoodCache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached entry.
func (c *MemoryLikelihoodCache) Purge() {
	c.cache.Purge()
}
