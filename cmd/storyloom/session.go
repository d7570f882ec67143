package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage narration sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a new session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		title := ""
		if len(args) > 0 {
			title = args[0]
		}
		record, err := store.Create(cmd.Context(), title)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", record.SessionID, record.Title)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		records, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s  %s  %s\n", r.SessionID, r.UpdatedAt.Format("2006-01-02 15:04"), r.Title)
		}
		return nil
	},
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename [session-id] [title]",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		return store.Rename(cmd.Context(), args[0], args[1], true)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		return store.Delete(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionRenameCmd, sessionDeleteCmd)
}

func openSessionStore() (*session.FileStore, error) {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	return session.NewFileStore(cfg.SessionsDir())
}
