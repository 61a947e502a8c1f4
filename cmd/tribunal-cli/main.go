// Tribunal CLI — инструмент командной строки для управления
// cases, definitions и очередью задач через HTTP API.
//
// Использование:
//
//	tribunal [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	case        Управление cases
//	definition  Управление workflow definitions
//	queue       Состояние очереди и dead letters
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Tribunal/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "tribunal",
		Short:         "Tribunal CLI — case processing tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewCaseCmd(clientFn, outputFn),
		cli.NewDefinitionCmd(clientFn, outputFn),
		cli.NewQueueCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
