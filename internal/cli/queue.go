package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для управления очередью задач.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the task queue",
	}

	cmd.AddCommand(
		newQueueStatsCmd(clientFn, outputFn),
		newQueueDeadLettersCmd(clientFn, outputFn),
		newQueueReplayCmd(clientFn, outputFn),
	)

	return cmd
}

func newQueueStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth per priority tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.QueueStats()
			if err != nil {
				return err
			}

			headers := []string{"TIER", "DEPTH"}
			rows := [][]string{}
			for _, tier := range []string{"critical", "high", "normal", "low"} {
				rows = append(rows, []string{tier, strconv.FormatInt(stats.Depth[tier], 10)})
			}
			rows = append(rows,
				[]string{"leased", strconv.FormatInt(stats.Leased, 10)},
				[]string{"dead", strconv.FormatInt(stats.Dead, 10)},
				[]string{"total", strconv.FormatInt(stats.Total, 10)},
			)

			out.Print(headers, rows, stats)
			return nil
		},
	}

	return cmd
}

func newQueueDeadLettersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List dead-lettered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListDeadLetters(limit)
			if err != nil {
				return err
			}

			headers := []string{"TASK_ID", "CASE_ID", "STEP", "CAPABILITY", "ATTEMPTS", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{t.TaskID, t.CaseID, t.StepID, t.Capability, strconv.Itoa(t.Attempt), t.Error}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newQueueReplayCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay TASK_ID",
		Short: "Replay a dead-lettered task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.ReplayDeadLetter(args[0]); err != nil {
				return err
			}

			out.Success("Task replayed: " + args[0])
			return nil
		},
	}

	return cmd
}
