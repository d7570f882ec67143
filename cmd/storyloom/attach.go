package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/pkg/attachments"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Manage session attachments",
}

var attachAddCmd = &cobra.Command{
	Use:   "add [session-id] [file]",
	Short: "Ingest a text file as a session attachment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAttachmentStore()
		if err != nil {
			return err
		}
		record, err := store.PutFromFile(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %d bytes\n", record.ID, record.FileName, record.SizeBytes)
		return nil
	},
}

var attachListCmd = &cobra.Command{
	Use:   "list [session-id]",
	Short: "List a session's attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAttachmentStore()
		if err != nil {
			return err
		}
		for _, r := range store.ListBySession(args[0]) {
			fmt.Printf("%s  %s  %d bytes\n", r.ID, r.FileName, r.SizeBytes)
		}
		return nil
	},
}

var attachRemoveCmd = &cobra.Command{
	Use:   "rm [attachment-id]",
	Short: "Remove an attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAttachmentStore()
		if err != nil {
			return err
		}
		return store.Delete(args[0])
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.AddCommand(attachAddCmd, attachListCmd, attachRemoveCmd)
}

func openAttachmentStore() (*attachments.Store, error) {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	return attachments.NewStore(cfg.AttachmentsDir()), nil
}
