package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tracez"

	"detflow/internal/engineerr"
)

func newBranchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Fork a new flow from a prior step of an existing flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			flowID, _ := cmd.Flags().GetString("flow")
			fromStep, _ := cmd.Flags().GetString("from-step")
			divHash, _ := cmd.Flags().GetString("div-hash")
			defName, _ := cmd.Flags().GetString("definition")

			if flowID == "" || fromStep == "" {
				return &engineerr.PolicyViolation{Msg: "--flow and --from-step are required"}
			}

			def, err := lookupDefinition(defName)
			if err != nil {
				return err
			}
			e, err := newEngineFromFlags(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, span := e.Tracer().StartSpan(cmd.Context(), tracez.Key(fmt.Sprintf("cli.branch flow=%s step=%s", flowID, fromStep)))
			defer span.Finish()

			branchID, err := e.Branch(ctx, flowID, def, fromStep, divHash)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), branchID)
			return nil
		},
	}

	cmd.Flags().String("flow", "", "parent flow UUID")
	cmd.Flags().String("from-step", "", "step id to branch from")
	cmd.Flags().String("div-hash", "", "hex hash recorded to describe the diverging params")
	cmd.Flags().String("definition", "default", "registered definition name")

	return cmd
}
