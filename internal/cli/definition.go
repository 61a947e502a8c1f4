package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDefinitionCmd создаёт группу команд для управления definitions.
func NewDefinitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Manage workflow definitions",
	}

	cmd.AddCommand(
		newDefinitionRegisterCmd(clientFn, outputFn),
		newDefinitionListCmd(clientFn, outputFn),
		newDefinitionShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newDefinitionRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "register CASE_TYPE",
		Short: "Register a new workflow definition version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("read spec file: %w", err)
			}
			if !json.Valid(data) {
				return fmt.Errorf("spec file %s is not valid JSON", specFile)
			}

			def, err := client.RegisterDefinition(args[0], data)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition registered: %s version %d", def.ID, def.Version))
			out.Print(
				[]string{"ID", "CASE_TYPE", "VERSION", "CREATED"},
				[][]string{{def.ID, def.CaseType, strconv.Itoa(def.Version), def.CreatedAt}},
				def,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&specFile, "spec-file", "", "Path to JSON file with workflow spec (required)")
	cmd.MarkFlagRequired("spec-file")

	return cmd
}

func newDefinitionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List latest definition versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			defs, err := client.ListDefinitions()
			if err != nil {
				return err
			}

			headers := []string{"ID", "CASE_TYPE", "VERSION", "CREATED"}
			rows := make([][]string, len(defs))
			for i, def := range defs {
				rows[i] = []string{def.ID, def.CaseType, strconv.Itoa(def.Version), def.CreatedAt}
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}

	return cmd
}

func newDefinitionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show DEFINITION_ID",
		Short: "Show definition details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.GetDefinition(args[0])
			if err != nil {
				return err
			}

			// Spec всегда в JSON — таблицей его не показать
			out.JSON(def)
			return nil
		},
	}

	return cmd
}
