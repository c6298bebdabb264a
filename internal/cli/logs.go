package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <session-id>",
	Short: "Show the action log of a session",
	Long: `Show the append-only action log of a session: every tool call that
reached the permission guard, with its decision and timing.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	logs, err := a.svc.Logs(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tTARGET\tALLOWED\tDURATION")
	for _, entry := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			entry.CreatedAt.Format(time.RFC3339),
			entry.Action, entry.Target, entry.WasAllowed, entry.Duration)
	}
	return w.Flush()
}
