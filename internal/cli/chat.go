package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Open an interactive conversation. Pass --session to resume an existing
one; otherwise a fresh session id is generated. Type /reset to discard the
remote agent and thread, /exit to leave.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "session id to resume")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id := chatSessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess, err := a.controller.StartOrResume(id)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%d turns)\n", id, len(sess.Record.Turns))
	for _, turn := range sess.Record.Turns {
		fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			a.controller.Reset(cmd.Context(), sess)
			fmt.Println("Conversation reset.")
			continue
		}

		turn, err := a.controller.Submit(cmd.Context(), sess, text)
		if err != nil {
			return err
		}
		fmt.Printf("[assistant] %s\n", turn.Content)
	}
}
