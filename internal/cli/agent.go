package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/notedock/notedock/pkg/scope"
	"github.com/notedock/notedock/pkg/store"
)

var (
	agentName          string
	agentProvider      string
	agentModel         string
	agentMaxIterations int
	agentMaxTokens     int
	agentTemperature   float64
	agentScopeJSON     string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agents and their permission scopes",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new agent",
	Long: `Create a new agent with a permission scope.

The scope is given as JSON, for example:
  notedock agent create --name researcher --provider anthropic \
    --model claude-sonnet-4 \
    --scope '{"folders":["/experiments/*"],"file_types":["*.md"],"notebooks":["*"],"can_read":true,"can_write":true}'`,
	RunE: runAgentCreate,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agents",
	RunE:  runAgentList,
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentShow,
}

var agentActivateCmd = &cobra.Command{
	Use:   "activate <agent-id>",
	Short: "Activate an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAgentActive(cmd, args[0], true) },
}

var agentDeactivateCmd = &cobra.Command{
	Use:   "deactivate <agent-id>",
	Short: "Deactivate an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAgentActive(cmd, args[0], false) },
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id>",
	Short: "Delete an agent, or deactivate it when sessions reference it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentDelete,
}

func init() {
	agentCreateCmd.Flags().StringVar(&agentName, "name", "", "agent name (required)")
	agentCreateCmd.Flags().StringVar(&agentProvider, "provider", "anthropic", "model provider (anthropic, openai)")
	agentCreateCmd.Flags().StringVar(&agentModel, "model", "", "model identifier (required)")
	agentCreateCmd.Flags().IntVar(&agentMaxIterations, "max-iterations", 0, "tool loop bound (default 20)")
	agentCreateCmd.Flags().IntVar(&agentMaxTokens, "max-tokens", 0, "max tokens per completion (default 4096)")
	agentCreateCmd.Flags().Float64Var(&agentTemperature, "temperature", 0, "sampling temperature")
	agentCreateCmd.Flags().StringVar(&agentScopeJSON, "scope", "", "permission scope as JSON (required)")

	agentCmd.AddCommand(agentCreateCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentShowCmd)
	agentCmd.AddCommand(agentActivateCmd)
	agentCmd.AddCommand(agentDeactivateCmd)
	agentCmd.AddCommand(agentDeleteCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentCreate(cmd *cobra.Command, args []string) error {
	if agentName == "" || agentModel == "" || agentScopeJSON == "" {
		return fmt.Errorf("--name, --model and --scope are required")
	}

	var s scope.Scope
	if err := json.Unmarshal([]byte(agentScopeJSON), &s); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	agent, err := a.svc.CreateAgent(cmd.Context(), store.Agent{
		Name:          agentName,
		Provider:      agentProvider,
		Model:         agentModel,
		Scope:         s,
		MaxIterations: agentMaxIterations,
		MaxTokens:     agentMaxTokens,
		Temperature:   agentTemperature,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created agent %s (%s)\n", agent.ID, agent.Name)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	agents, err := a.svc.ListAgents(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tMODEL\tACTIVE")
	for _, agent := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			agent.ID, agent.Name, agent.Provider, agent.Model, agent.Active)
	}
	return w.Flush()
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	agent, err := a.svc.GetAgent(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(agent, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func setAgentActive(cmd *cobra.Command, id string, active bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.SetAgentActive(cmd.Context(), id, active); err != nil {
		return err
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("Agent %s %s\n", id, state)
	return nil
}

func runAgentDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.svc.DeleteAgent(cmd.Context(), args[0])
	if errors.Is(err, store.ErrAgentInUse) {
		fmt.Printf("Agent %s has live sessions; deactivated instead\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Agent %s deleted\n", args[0])
	return nil
}
