package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.directory.Entries(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-40s  %d turns  %s\n",
			e.ID, e.Title, e.Turns, e.ModTime.Format("2006-01-02 15:04"))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.directory.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
