package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	parley "github.com/parley-im/parley-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [username]",
	Short: "Connect and chat interactively",
	Long: "Connect to the configured server and chat from the terminal.\n" +
		"Without a username argument the stored one is resumed.\n\n" +
		"In-chat commands:\n" +
		"  /image <path>   send an image file\n" +
		"  /record         start or finish a voice recording\n" +
		"  /clear          wipe the transcript and log\n" +
		"  /quit           log out and exit",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newSession(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if len(args) == 1 {
			err = s.Register(ctx, args[0])
		} else {
			var ok bool
			ok, err = s.Resume(ctx)
			if err == nil && !ok {
				return fmt.Errorf("no stored username; run 'parley chat <username>' or 'parley login <username>'")
			}
		}
		if err != nil {
			if errors.Is(err, parley.ErrUsernameTooShort) {
				return fmt.Errorf("username must be at least 3 characters")
			}
			// Connection failures are already rendered as system notices;
			// stay in the loop so auto-reconnect can recover.
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		}

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "/") {
				if quit := runChatCommand(s, line); quit {
					return s.Logout()
				}
				continue
			}
			if err := s.SendText(line); err != nil && !errors.Is(err, parley.ErrNotConnected) {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
		}
		return s.Logout()
	},
}

// runChatCommand handles one /-prefixed input line. Returns true on /quit.
func runChatCommand(s *parley.Session, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/image":
		if len(fields) != 2 {
			fmt.Println("usage: /image <path>")
			return false
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "read image: %v\n", err)
			return false
		}
		mimeType := mime.TypeByExtension(filepath.Ext(fields[1]))
		if err := s.SendImage(data, mimeType); err != nil && !errors.Is(err, parley.ErrNotConnected) {
			fmt.Fprintf(os.Stderr, "send image: %v\n", err)
		}

	case "/record":
		wasRecording := s.Recording()
		if err := s.ToggleRecording(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "record: %v\n", err)
			return false
		}
		if wasRecording {
			fmt.Println("  * recording sent")
		} else {
			fmt.Println("  * recording... type /record again to send")
		}

	case "/clear":
		if err := s.ClearChat(); err != nil {
			fmt.Fprintf(os.Stderr, "clear: %v\n", err)
		}

	default:
		fmt.Printf("unknown command %s (try /image, /record, /clear, /quit)\n", fields[0])
	}
	return false
}
