package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the persisted chat log without connecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := offlineSession(cfg)
		if err != nil {
			return err
		}

		// Resume replays the stored log through the terminal renderer.
		ok, err := s.Resume(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Not logged in. Run 'parley login <username>' first.")
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Wipe the persisted chat log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := offlineSession(cfg)
		if err != nil {
			return err
		}
		if err := s.ClearChat(); err != nil {
			return err
		}
		fmt.Println("Chat log cleared.")
		return nil
	},
}
