package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionAgentID string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start, drive and inspect agent sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <agent-id>",
	Short: "Start a new session for an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionStart,
}

var sessionMessageCmd = &cobra.Command{
	Use:   "message <session-id> <prompt>",
	Short: "Send a message and run the agent loop to completion",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionMessage,
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionCancel,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionShow,
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionAgentID, "agent", "", "filter by agent id")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionMessageCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.svc.StartSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s started (agent %s)\n", sess.ID, sess.AgentID)
	return nil
}

func runSessionMessage(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Message(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	switch {
	case res.Error != "":
		fmt.Printf("[%s] %s\n", res.Status, res.Error)
	default:
		fmt.Println(res.Response)
	}
	fmt.Printf("\n(%d iterations, %d tool calls, %d tokens)\n",
		res.Iterations, res.ToolCalls, res.TokensUsed)
	return nil
}

func runSessionCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Cancel(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Session %s cancelled\n", args[0])
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.svc.ListSessions(cmd.Context(), sessionAgentID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tTOKENS\tAPI CALLS\tFILES\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, s.AgentID, s.Status, s.TokensUsed, s.APICalls, s.FilesModified,
			s.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.svc.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (agent %s, status %s)\n", sess.ID, sess.AgentID, sess.Status)
	if sess.Error != "" {
		fmt.Printf("Error: %s\n", sess.Error)
	}
	fmt.Println()

	transcript, err := a.svc.Transcript(cmd.Context(), sess.ID)
	if err != nil {
		return err
	}
	for _, msg := range transcript {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}
