package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage encrypted agent credentials",
	Long: `Manage encrypted agent credentials.

Values are sealed with the vault key before they reach the database
and are only decrypted in memory when a session needs them. There is
no command to read a stored value back.`,
}

var credentialSetCmd = &cobra.Command{
	Use:   "set <agent-id> <key>",
	Short: "Store a credential, reading the value from stdin",
	Args:  cobra.ExactArgs(2),
	RunE:  runCredentialSet,
}

var credentialListCmd = &cobra.Command{
	Use:   "list <agent-id>",
	Short: "List credential names for an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runCredentialList,
}

var credentialDeleteCmd = &cobra.Command{
	Use:   "delete <agent-id> <key>",
	Short: "Delete a stored credential",
	Args:  cobra.ExactArgs(2),
	RunE:  runCredentialDelete,
}

func init() {
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialDeleteCmd)
	rootCmd.AddCommand(credentialCmd)
}

func runCredentialSet(cmd *cobra.Command, args []string) error {
	// The value comes from stdin so it never lands in shell history.
	reader := bufio.NewReader(cmd.InOrStdin())
	value, err := reader.ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("reading credential value: %w", err)
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return fmt.Errorf("credential value is empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.SetCredential(cmd.Context(), args[0], args[1], value); err != nil {
		return err
	}

	fmt.Printf("Credential %q stored for agent %s\n", args[1], args[0])
	return nil
}

func runCredentialList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.svc.ListCredentialKeys(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		fmt.Println("No credentials stored")
		return nil
	}
	for _, key := range keys {
		fmt.Fprintln(os.Stdout, key)
	}
	return nil
}

func runCredentialDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.DeleteCredential(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}

	fmt.Printf("Credential %q deleted for agent %s\n", args[1], args[0])
	return nil
}
