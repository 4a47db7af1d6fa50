// -- cmd/check.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/internal/budget"
	"github.com/xkilldash9x/caliper-cli/internal/observability"
	"github.com/xkilldash9x/caliper-cli/internal/scenario"
)

// newCheckCmd creates the `check` command: full scenario validation without a
// browser.
func newCheckCmd() *cobra.Command {
	var (
		baseURL  string
		varFlags []string
	)

	checkCmd := &cobra.Command{
		Use:   "check <scenario-file-or-dir>",
		Short: "Validate scenario files without launching a browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}

			vars, err := parseVars(varFlags)
			if err != nil {
				return err
			}

			loader := scenario.NewLoader(logger, baseURL, vars)
			scenarios, err := loader.Load(args[0])
			if err != nil {
				return err
			}

			eval := budget.NewEvaluator(cfg.Budgets.Global, logger)
			for _, key := range eval.UnknownKeys(cfg.Budgets.Global) {
				logger.Warn("Unknown metric in global budgets.", zap.String("metric", key))
			}
			for _, sc := range scenarios {
				for _, key := range eval.UnknownKeys(sc.Budgets) {
					logger.Warn("Unknown metric in scenario budgets.",
						zap.String("scenario", sc.Name),
						zap.String("metric", key))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%d steps)\n", sc.Name, len(sc.Steps))
			}
			return nil
		},
	}

	checkCmd.Flags().StringVar(&baseURL, "base-url", "", "base url for relative scenario urls")
	checkCmd.Flags().StringArrayVar(&varFlags, "var", nil, "scenario variable as name=value (repeatable)")

	return checkCmd
}
