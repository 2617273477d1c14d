package main

import (
	"errors"
	"fmt"

	parley "github.com/parley-im/parley-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Store a username for chat sessions",
	Long:  "Validate and store a username. Later 'parley chat' runs resume it automatically.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, err := parley.NewFileKV(cfg.Server.DataDir)
		if err != nil {
			return err
		}

		s := parley.NewSession(parley.WithKV(kv))
		if err := s.Register(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, parley.ErrUsernameTooShort) {
				return fmt.Errorf("username must be at least 3 characters")
			}
			return err
		}
		fmt.Printf("Logged in as %s. Run 'parley chat' to start chatting.\n", s.Username())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored username",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, err := parley.NewFileKV(cfg.Server.DataDir)
		if err != nil {
			return err
		}

		s := parley.NewSession(parley.WithKV(kv))
		ok, err := s.Resume(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Not logged in.")
			return nil
		}
		if err := s.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
