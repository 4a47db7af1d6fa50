// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/browser"
	"github.com/xkilldash9x/caliper-cli/internal/config"
	"github.com/xkilldash9x/caliper-cli/internal/observability"
	"github.com/xkilldash9x/caliper-cli/internal/report"
	"github.com/xkilldash9x/caliper-cli/internal/runner"
	"github.com/xkilldash9x/caliper-cli/internal/scenario"
	"github.com/xkilldash9x/caliper-cli/internal/store"
)

const shutdownTimeout = 15 * time.Second

// newRunCmd creates and configures the `run` command.
func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		baseURL         string
		varFlags        []string
		failOnViolation bool
	)

	runCmd := &cobra.Command{
		Use:   "run <scenario-file-or-dir>",
		Short: "Run scenarios against a browser and report the measured vitals",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind override flags to their config keys so precedence works
			// out as flag > env > file > default.
			bindings := map[string]string{
				"report.out":         "out",
				"report.format":      "format",
				"report.pretty":      "pretty",
				"browser.headless":   "headless",
				"profile.enabled":    "profile",
				"store.enabled":      "store",
				"batch.scenario_gap": "gap",
			}
			for key, flag := range bindings {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			// Re-resolve the configuration now that the run flags are bound.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}
			cfg.Run = config.RunConfig{
				ScenarioPath:    args[0],
				BaseURL:         baseURL,
				Variables:       vars,
				FailOnViolation: failOnViolation,
			}

			return runScenarios(cmd.Context(), cfg, logger)
		},
	}

	runCmd.Flags().StringP("out", "o", "", "report destination: file path, directory, or empty for stdout")
	runCmd.Flags().StringP("format", "f", "json", "report format: json, junit or both")
	runCmd.Flags().Bool("pretty", true, "indent JSON report output")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().Bool("profile", false, "sample runner cpu/memory while steps execute")
	runCmd.Flags().Bool("store", false, "persist the result to the history database")
	runCmd.Flags().Duration("gap", 0, "pause between scenario starts")
	runCmd.Flags().StringVar(&baseURL, "base-url", "", "base url for relative scenario urls")
	runCmd.Flags().StringArrayVar(&varFlags, "var", nil, "scenario variable as name=value (repeatable)")
	runCmd.Flags().BoolVar(&failOnViolation, "fail-on-violation", true, "exit non-zero on scenario failures or budget violations")

	return runCmd
}

// runScenarios contains the core logic for the run command: load, execute,
// report, optionally persist, then apply the violation gate.
func runScenarios(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	loader := scenario.NewLoader(logger, cfg.Run.BaseURL, cfg.Run.Variables)
	scenarios, err := loader.Load(cfg.Run.ScenarioPath)
	if err != nil {
		return err
	}

	manager, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown reported an error.", zap.Error(err))
		}
	}()

	batch := runner.NewBatchRunner(cfg, runner.ManagerFactory{Manager: manager}, logger)
	result, runErr := batch.RunAll(ctx, scenarios)
	if result == nil {
		return runErr
	}

	// An interrupted batch still gets its partial result written.
	if err := report.Emit(cfg.Report, result, logger); err != nil {
		return err
	}

	if cfg.Store.Enabled {
		if err := persistRun(ctx, cfg, result, logger); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}

	if cfg.Run.FailOnViolation {
		failed := result.Summary.Failed
		violations := len(result.Summary.BudgetViolations)
		if failed > 0 || violations > 0 {
			return fmt.Errorf("%d scenario failure(s), %d budget violation(s)", failed, violations)
		}
	}
	return nil
}

// persistRun stores the batch result in the history database.
func persistRun(ctx context.Context, cfg *config.Config, result *schemas.BatchResult, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to history database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return fmt.Errorf("initializing history store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	return st.SaveRun(ctx, result)
}

// parseVars turns repeated name=value flags into the interpolation map.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q, expected name=value", p)
		}
		vars[name] = value
	}
	return vars, nil
}
