package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"

	"github.com/agentic-research/treesync/internal/config"
	"github.com/agentic-research/treesync/internal/project"
)

var stubIgnoreGlobs []string

func init() {
	stubCmd.Flags().StringSliceVar(&stubIgnoreGlobs, "ignore-glob", config.DefaultIgnoreGlobs, "glob of paths to skip")
	rootCmd.AddCommand(stubCmd)
}

var stubCmd = &cobra.Command{
	Use:   "stub [project.json]",
	Short: "Print the approximate tree of a project as sourcemap JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultProjectFile
		if len(args) == 1 {
			path = args[0]
		}
		path, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve project path: %w", err)
		}

		fs := osfs.New("/")
		data, err := util.ReadFile(fs, path)
		if err != nil {
			return fmt.Errorf("read project: %w", err)
		}
		proj, err := project.Parse(data, path)
		if err != nil {
			return err
		}

		tree := project.NewStubber(fs, stubIgnoreGlobs).Stub(proj)
		if tree == nil {
			return fmt.Errorf("project %s has no tree to approximate", path)
		}
		out, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return fmt.Errorf("encode tree: %w", err)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
		return err
	},
}
