package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewCaseCmd создаёт группу команд для управления кейсами.
func NewCaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
	}

	cmd.AddCommand(
		newCaseSubmitCmd(clientFn, outputFn),
		newCaseListCmd(clientFn, outputFn),
		newCaseShowCmd(clientFn, outputFn),
		newCaseHistoryCmd(clientFn, outputFn),
		newCaseCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newCaseSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var priority string
	var correlationID string
	var payload []string
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "submit CASE_TYPE",
		Short: "Submit a new case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitCaseRequest{
				Type:          args[0],
				Priority:      priority,
				CorrelationID: correlationID,
			}

			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				req.Payload = map[string]any{}
				if err := json.Unmarshal(data, &req.Payload); err != nil {
					return fmt.Errorf("parse payload file: %w", err)
				}
			}

			if len(payload) > 0 {
				if req.Payload == nil {
					req.Payload = map[string]any{}
				}
				for _, kv := range payload {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid payload format %q, expected KEY=VALUE", kv)
					}
					req.Payload[parts[0]] = parts[1]
				}
			}

			cs, err := client.SubmitCase(req)
			if err != nil {
				return err
			}

			out.Success("Case submitted: " + cs.ID)
			out.Print(
				[]string{"ID", "INSTANCE", "TYPE", "PRIORITY", "STATE", "CREATED"},
				[][]string{{cs.ID, cs.InstanceID, cs.Type, cs.Priority, cs.State, cs.CreatedAt}},
				cs,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "", "Case priority (critical, high, normal, low)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation ID for tracing")
	cmd.Flags().StringArrayVar(&payload, "payload", nil, "Payload entries as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Path to JSON file with payload")

	return cmd
}

func newCaseListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var caseType string
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			cases, err := client.ListCases(ListCasesOpts{
				Type:  caseType,
				State: state,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "PRIORITY", "STATE", "CREATED"}
			rows := make([][]string, len(cases))
			for i, c := range cases {
				rows[i] = []string{c.ID, c.Type, c.Priority, c.State, c.CreatedAt}
			}

			out.Print(headers, rows, cases)
			return nil
		},
	}

	cmd.Flags().StringVar(&caseType, "type", "", "Filter by case type")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (PENDING, INVESTIGATING, VALIDATING, REMEDIATING, RESOLVED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newCaseShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show CASE_ID",
		Short: "Show case details with workflow progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			cs, err := client.GetCase(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(cs)
				return nil
			}

			out.KV([][2]string{
				{"ID", cs.ID},
				{"Type", cs.Type},
				{"Priority", cs.Priority},
				{"State", cs.State},
				{"Correlation", cs.CorrelationID},
				{"Error", cs.Error},
				{"Created", cs.CreatedAt},
			})

			if cs.Workflow != nil {
				out.Success("")
				stepIDs := make([]string, 0, len(cs.Workflow.StepStatuses))
				for stepID := range cs.Workflow.StepStatuses {
					stepIDs = append(stepIDs, stepID)
				}
				sort.Strings(stepIDs)

				stepRows := make([][]string, len(stepIDs))
				for i, stepID := range stepIDs {
					stepRows[i] = []string{stepID, cs.Workflow.StepStatuses[stepID], cs.Workflow.StepErrors[stepID]}
				}
				out.Table([]string{"STEP", "STATUS", "ERROR"}, stepRows)
			}
			return nil
		},
	}

	return cmd
}

func newCaseHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history CASE_ID",
		Short: "Show case state transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			transitions, err := client.ListTransitions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"FROM", "TO", "TRIGGER", "ACTOR", "AT", "HELD"}
			rows := make([][]string, len(transitions))
			for i, tr := range transitions {
				held := (time.Duration(tr.HeldMs) * time.Millisecond).String()
				rows[i] = []string{tr.From, tr.To, tr.Trigger, tr.Actor, tr.At, held}
			}

			out.Print(headers, rows, transitions)
			return nil
		},
	}

	return cmd
}

func newCaseCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel CASE_ID",
		Short: "Cancel a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			cs, err := client.CancelCase(args[0])
			if err != nil {
				return err
			}

			out.Success("Case cancelled: " + cs.ID)
			out.Print(
				[]string{"ID", "TYPE", "STATE"},
				[][]string{{cs.ID, cs.Type, cs.State}},
				cs,
			)
			return nil
		},
	}

	return cmd
}
