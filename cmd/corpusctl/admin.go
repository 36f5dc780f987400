package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <corpus>",
	Short: "Create empty document and position indices for a corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		schema, err := a.schema(args[0])
		if err != nil {
			return err
		}
		if err := a.lifecycle.CreateIndices(ctx, schema); err != nil {
			return err
		}
		fmt.Printf("indices created for corpus %s\n", args[0])
		return nil
	},
}

var (
	removeDocID string
	removeFile  string
)

var removeCmd = &cobra.Command{
	Use:   "remove <corpus>",
	Short: "Remove one document or one source file's documents from a corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (removeDocID == "") == (removeFile == "") {
			return fmt.Errorf("exactly one of --doc and --file is required")
		}
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if removeDocID != "" {
			if err := a.lifecycle.RemoveDocument(ctx, args[0], removeDocID); err != nil {
				return err
			}
			fmt.Printf("removed document %s from corpus %s\n", removeDocID, args[0])
		} else {
			removed, err := a.lifecycle.RemoveByFile(ctx, args[0], removeFile)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d documents of file %s from corpus %s\n", removed, removeFile, args[0])
		}
		invalidateCache(ctx, a)
		return nil
	},
}

func init() {
	removeCmd.Flags().StringVar(&removeDocID, "doc", "", "document id to remove")
	removeCmd.Flags().StringVar(&removeFile, "file", "", "source file whose documents are removed")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <corpus>",
	Short: "Delete a corpus and all its indices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		if err := a.lifecycle.DeleteIndices(ctx, args[0]); err != nil {
			return err
		}
		invalidateCache(ctx, a)
		fmt.Printf("indices deleted for corpus %s\n", args[0])
		return nil
	},
}
