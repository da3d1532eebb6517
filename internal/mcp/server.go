// Package mcp exposes match prediction as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/service"
)

// ProbabilityCalculator computes the match probability of one patient/donor pair.
type ProbabilityCalculator interface {
	CalculateMatchProbability(ctx context.Context, input service.MatchProbabilityInput) (*domain.MatchProbabilityResult, error)
}

// SubjectMatcher imputes a patient/donor pair and exposes its genotype pair comparisons.
type SubjectMatcher interface {
	MatchSubjects(ctx context.Context, input service.GenotypeMatcherInput) (*service.GenotypeMatcherResult, error)
}

// Server represents the HLA match prediction MCP server
type Server struct {
	mcpServer   *mcp.Server
	probability ProbabilityCalculator
	matcher     SubjectMatcher
	matching    domain.MatchingConfig
	logger      *logrus.Logger
}

// NewServer creates a new MCP server with every tool registered. matcher may be nil, in which
// case only calculate_match_probability is offered.
func NewServer(info domain.MCPConfig, matching domain.MatchingConfig, probability ProbabilityCalculator, matcher SubjectMatcher, logger *logrus.Logger) *Server {
	serverInfo := &mcp.Implementation{
		Name:    info.ServerName,
		Version: info.ServerVersion,
	}

	s := &Server{
		mcpServer:   mcp.NewServer(serverInfo, nil),
		probability: probability,
		matcher:     matcher,
		matching:    matching,
		logger:      logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, calculateMatchProbabilityTool(), s.handleCalculateMatchProbability)
	registered := 1
	if s.matcher != nil {
		mcp.AddTool(s.mcpServer, matchGenotypesTool(), s.handleMatchGenotypes)
		registered++
	}
	s.logger.WithField("tool_count", registered).Info("Registered MCP tools")
}

// Run serves MCP over stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting HLA match prediction MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
