package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tracez"

	"detflow/internal/engineerr"
)

func newRetryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Schedule a retry for a failed step",
		RunE: func(cmd *cobra.Command, args []string) error {
			flowID, _ := cmd.Flags().GetString("flow")
			stepID, _ := cmd.Flags().GetString("step")
			reason, _ := cmd.Flags().GetString("reason")
			max, _ := cmd.Flags().GetInt("max")
			defName, _ := cmd.Flags().GetString("definition")

			if flowID == "" || stepID == "" {
				return &engineerr.PolicyViolation{Msg: "--flow and --step are required"}
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

			ctx, span := e.Tracer().StartSpan(cmd.Context(), tracez.Key(fmt.Sprintf("cli.retry flow=%s step=%s", flowID, stepID)))
			defer span.Finish()

			return e.ScheduleRetry(ctx, flowID, def, stepID, reason, max)
		},
	}

	cmd.Flags().String("flow", "", "flow UUID")
	cmd.Flags().String("step", "", "step id")
	cmd.Flags().String("reason", "", "human-readable retry reason")
	cmd.Flags().Int("max", 3, "maximum retry attempts allowed for this step")
	cmd.Flags().String("definition", "default", "registered definition name")

	return cmd
}
