package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dalemusser/devsync/internal/syncclient"
	"github.com/spf13/cobra"
)

var parentID string

var writeCmd = &cobra.Command{
	Use:   "write <room> <file-id> [content]",
	Short: "Replace a file's content, reading stdin when content is omitted",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ""
		if len(args) == 3 {
			content = args[2]
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			content = string(b)
		}
		return withSession(args[0], func(s *syncclient.Session) error {
			return s.EditContent(args[1], content)
		})
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <room> <name>",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *syncclient.Session) error {
			id, err := s.CreateFile(parentID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <room> <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *syncclient.Session) error {
			id, err := s.CreateFolder(parentID, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <room> <id>",
	Short: "Delete a file or folder with everything under it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *syncclient.Session) error {
			return s.Delete(args[1])
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <room> <id> <name>",
	Short: "Rename a file or folder",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *syncclient.Session) error {
			return s.Rename(args[1], args[2])
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <room> <id> [folder-id]",
	Short: "Move an item into a folder, or to the top level when folder-id is omitted",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 3 {
			target = strings.TrimSpace(args[2])
		}
		return withSession(args[0], func(s *syncclient.Session) error {
			return s.Move(args[1], target)
		})
	},
}

var clearCanvasCmd = &cobra.Command{
	Use:   "clear-canvas <room>",
	Short: "Remove every whiteboard element",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(args[0], func(s *syncclient.Session) error {
			return s.ClearCanvas()
		})
	},
}

func init() {
	touchCmd.Flags().StringVar(&parentID, "parent", "", "folder id to create the file in")
	mkdirCmd.Flags().StringVar(&parentID, "parent", "", "folder id to create the folder in")

	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(clearCanvasCmd)
}
