package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects in the portal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status, _ := cmd.Flags().GetString("status")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		format, _ := cmd.Flags().GetString("format")

		env, err := initEnv(ctx, "projects")
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Catalog.ListAll(ctx, status, pageSize)
		if err != nil {
			return eris.Wrap(err, "projects")
		}
		return writeOutput(cmd.OutOrStdout(), format, list)
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List every task of a project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		projectID, _ := cmd.Flags().GetString("project")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		format, _ := cmd.Flags().GetString("format")
		if projectID == "" {
			return eris.New("tasks: --project is required")
		}

		env, err := initEnv(ctx, "tasks")
		if err != nil {
			return err
		}
		defer env.Close()

		if pageSize == 0 {
			pageSize = cfg.Projects.TaskPageSize
		}
		list, err := env.Tasks.AllProjectTasks(ctx, projectID, pageSize)
		if err != nil {
			return eris.Wrap(err, "tasks")
		}
		return writeOutput(cmd.OutOrStdout(), format, list)
	},
}

func init() {
	projectsCmd.Flags().String("status", "", "project status filter (active, archived); empty lists all")
	projectsCmd.Flags().Int("page-size", 100, "page size, at most 200")
	projectsCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(projectsCmd)

	tasksCmd.Flags().String("project", "", "project id")
	tasksCmd.Flags().Int("page-size", 0, "page size, at most 200 (default from config)")
	tasksCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(tasksCmd)
}
