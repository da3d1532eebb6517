package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hla-match-prediction/internal/api"
	"github.com/hla-match-prediction/internal/app"
	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/likelihood"
	"github.com/hla-match-prediction/internal/logging"
	"github.com/hla-match-prediction/internal/setup"
)

// newApp builds the application with logs on stderr so stdout stays machine readable.
func newApp(cmd *cobra.Command) (*app.App, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return app.New(cmd.Context(), app.Options{ConfigFile: configFile, LogOutput: logging.OutputStderr})
}

// openInput opens path for reading; "-" is stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate the match probability for a patient/donor request",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("request")

			in, err := openInput(path)
			if err != nil {
				return fmt.Errorf("failed to open request: %w", err)
			}
			defer in.Close()

			var req api.MatchProbabilityRequest
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("failed to parse request: %w", err)
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			input, err := req.ToInput(logging.NewRequestID())
			if err != nil {
				return err
			}
			result, err := a.Probability.CalculateMatchProbability(cmd.Context(), input)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().String("request", "-", "Request JSON file, - for stdin")
	return cmd
}

func likelihoodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "likelihoods",
		Short: "Manage the local genotype likelihood store",
	}

	// withStore runs fn against the configured store and the requested scope.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store likelihood.Store, scope likelihood.Scope) error) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		store, err := a.OpenStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		scope := a.StoreScope()
		if set, _ := cmd.Flags().GetString("frequency-set"); set != "" {
			scope.FrequencySet = set
		}
		if version, _ := cmd.Flags().GetString("hla-version"); version != "" {
			scope.HLANomenclatureVersion = version
		}
		return fn(cmd.Context(), store, scope)
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a likelihood export document",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			in, err := openInput(path)
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer in.Close()

			return withStore(cmd, func(ctx context.Context, store likelihood.Store, _ likelihood.Scope) error {
				result, err := store.Import(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d genotype(s) into %s\n", result.Imported, result.Scope)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "-", "Export document to import, - for stdin")
	cmd.AddCommand(importCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the likelihoods of one scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("output")
			return withStore(cmd, func(ctx context.Context, store likelihood.Store, scope likelihood.Scope) error {
				if path == "" || path == "-" {
					return store.Export(ctx, scope, cmd.OutOrStdout())
				}
				out, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				if err := store.Export(ctx, scope, out); err != nil {
					out.Close()
					return err
				}
				return out.Close()
			})
		},
	}
	exportCmd.Flags().String("output", "-", "Destination file, - for stdout")
	cmd.AddCommand(exportCmd)

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Count the genotypes stored in one scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store likelihood.Store, scope likelihood.Scope) error {
				count, err := store.Count(ctx, scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d genotype(s)\n", scope, count)
				return nil
			})
		},
	}
	cmd.AddCommand(countCmd)

	for _, sub := range []*cobra.Command{exportCmd, countCmd} {
		sub.Flags().String("frequency-set", "", "Frequency set, defaults to matching.frequency_set")
		sub.Flags().String("hla-version", "", "HLA nomenclature version, defaults to matching.hla_nomenclature_version")
	}
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Register the MCP server with Claude Desktop",
	}
	cmd.PersistentFlags().String("claude-config", "", "Claude Desktop config file, defaults to the platform location")

	claudeConfigPath := func(cmd *cobra.Command) (string, error) {
		if path, _ := cmd.Flags().GetString("claude-config"); path != "" {
			return path, nil
		}
		return setup.ClaudeDesktopConfigPath()
	}
	dataDir := func(cmd *cobra.Command) (string, error) {
		configFile, _ := cmd.Flags().GetString("config")
		manager, err := config.NewManagerWithFile(configFile)
		if err != nil {
			return "", err
		}
		return manager.GetConfig().DataDir, nil
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := claudeConfigPath(cmd)
			if err != nil {
				return err
			}
			dir, err := dataDir(cmd)
			if err != nil {
				return err
			}
			binary, _ := cmd.Flags().GetString("binary")
			configFile, _ := cmd.Flags().GetString("config")

			server, err := setup.Register(path, setup.Options{BinaryPath: binary, DataDir: dir, ConfigFile: configFile})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) in %s\n", setup.ServerName, server.Command, path)
			return nil
		},
	}
	registerCmd.Flags().String("binary", "", "Path to the mcp-server binary")
	cmd.AddCommand(registerCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the registration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := claudeConfigPath(cmd)
			if err != nil {
				return err
			}
			dir, err := dataDir(cmd)
			if err != nil {
				return err
			}
			status, err := setup.GetStatus(path, dir)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.AddCommand(statusCmd)
	return cmd
}
