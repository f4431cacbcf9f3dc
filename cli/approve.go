package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tracez"

	"detflow/internal/engineerr"
)

func newApproveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Provide the input a step's human gate is waiting on",
		RunE: func(cmd *cobra.Command, args []string) error {
			flowID, _ := cmd.Flags().GetString("flow")
			stepID, _ := cmd.Flags().GetString("step")
			providedRaw, _ := cmd.Flags().GetString("provided")
			defName, _ := cmd.Flags().GetString("definition")

			if flowID == "" || stepID == "" {
				return &engineerr.PolicyViolation{Msg: "--flow and --step are required"}
			}

			var provided any
			if providedRaw != "" {
				if err := json.Unmarshal([]byte(providedRaw), &provided); err != nil {
					return &engineerr.MalformedInput{Msg: "--provided is not valid JSON: " + err.Error()}
				}
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

			ctx, span := e.Tracer().StartSpan(cmd.Context(), tracez.Key(fmt.Sprintf("cli.approve flow=%s step=%s", flowID, stepID)))
			defer span.Finish()

			return e.ResumeUserInput(ctx, flowID, def, stepID, provided)
		},
	}

	cmd.Flags().String("flow", "", "flow UUID")
	cmd.Flags().String("step", "", "step id")
	cmd.Flags().String("provided", "", "JSON value to merge into the step's params")
	cmd.Flags().String("definition", "default", "registered definition name")

	return cmd
}
