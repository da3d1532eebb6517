package domain

import (
	"context"
)

// SubjectTyping is one subject's HLA typing as reported, before expansion or imputation.
// Typings hold allele names or ambiguous codes; their interpretation belongs to collaborators.
type SubjectTyping struct {
	ID     string           `json:"id,omitempty"`
	Typing AlleleNameTyping `json:"typing"`
}

// PhenotypeExpander turns an ambiguous typing into the set of genotypes it can stand for.
type PhenotypeExpander interface {
	ExpandAmbiguousPhenotype(ctx context.Context, typing AlleleNameTyping, hlaNomenclatureVersion string) (GenotypeSet, error)
}

// ImputationRequest identifies the subject and reference data for an imputation call.
type ImputationRequest struct {
	Subject                SubjectTyping `json:"subject"`
	FrequencySet           string        `json:"frequency_set"`
	HLANomenclatureVersion string        `json:"hla_nomenclature_version"`
	AllowedLoci            LocusSet      `json:"allowed_loci"`
}

// GenotypeImputer infers a subject's likelihood-weighted genotype population.
type GenotypeImputer interface {
	ImputeGenotypes(ctx context.Context, req ImputationRequest) (SubjectGenotypePopulation, error)
}

// LikelihoodSource returns the likelihood of a single genotype under the given nomenclature
// version. An empty version selects the source's configured one. Implementations are expected
// to be deterministic for a fixed nomenclature version and frequency set.
type LikelihoodSource interface {
	GenotypeLikelihood(ctx context.Context, genotype Genotype, hlaNomenclatureVersion string) (GenotypeLikelihood, error)
}

// LikelihoodSourceFunc adapts a function to LikelihoodSource.
type LikelihoodSourceFunc func(ctx context.Context, genotype Genotype, hlaNomenclatureVersion string) (GenotypeLikelihood, error)

// GenotypeLikelihood calls f.
func (f LikelihoodSourceFunc) GenotypeLikelihood(ctx context.Context, genotype Genotype, hlaNomenclatureVersion string) (GenotypeLikelihood, error) {
	return f(ctx, genotype, hlaNomenclatureVersion)
}

// GenotypeConverter converts allele-name genotypes to the allele-group resolution used for
// locus-by-locus reporting (for example P groups).
type GenotypeConverter interface {
	ConvertGenotypes(ctx context.Context, genotypes GenotypeSet, hlaNomenclatureVersion string) (map[Genotype]AlleleGroupTyping, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetMatchingConfig() *MatchingConfig
	Reload() error
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
