package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"slide_analyzer/internal/db"
	"slide_analyzer/internal/task"

	"github.com/spf13/cobra"
)

func newTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect analysis tasks in the database",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openTasks()
			if err != nil {
				return err
			}
			defer closeDB()

			tasks, err := repo.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing tasks: %w", err)
			}
			printTasks(cmd, tasks)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <task-id>",
		Short: "Print one task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openTasks()
			if err != nil {
				return err
			}
			defer closeDB()

			t, err := repo.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	})

	return cmd
}

func openTasks() (task.TaskRepositoryInterface, func(), error) {
	database, err := db.Open(&cfg.DB, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return task.NewTaskRepository(database), func() { database.Close() }, nil
}

func printTasks(cmd *cobra.Command, tasks []*task.Task) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tREQUESTED\tRESOLVED\tCREATED\tNOTE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.State, t.RequestedName, t.ResolvedOrRequested(),
			t.CreatedAt.Format("2006-01-02 15:04:05"), t.ProgressNote)
	}
	w.Flush()
}
