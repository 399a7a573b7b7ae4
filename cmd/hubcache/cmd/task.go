package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/store"
	"hubcache/internal/utils"
)

func newTaskCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage hub tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	taskCmd.AddCommand(newTaskListCmd(stdout, stderr, cfg))
	taskCmd.AddCommand(newTaskAddCmd(stdout, stderr, cfg))
	taskCmd.AddCommand(newTaskDoneCmd(stdout, stderr, cfg))
	taskCmd.AddCommand(newTaskRemoveCmd(stdout, stderr, cfg))
	taskCmd.AddCommand(newTaskStatsCmd(stdout, stderr, cfg))
	return taskCmd
}

// loadTasks fetches the hub's tasks and returns the hub id.
func loadTasks(ctx context.Context, a *app) (string, error) {
	hubID, err := a.hub()
	if err != nil {
		return "", err
	}
	return hubID, a.sess.Tasks.FetchTasks(ctx, hubID)
}

func newTaskListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			open, _ := cmd.Flags().GetBool("open")
			done, _ := cmd.Flags().GetBool("done")
			mine, _ := cmd.Flags().GetBool("mine")
			overdue, _ := cmd.Flags().GetBool("overdue")
			priority, _ := cmd.Flags().GetString("priority")
			search, _ := cmd.Flags().GetString("search")
			dueBefore, _ := cmd.Flags().GetString("due-before")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := loadTasks(ctx, a)
				if err != nil {
					return err
				}

				var f store.TaskFilters
				switch {
				case open:
					f.Completed = ptr(false)
				case done:
					f.Completed = ptr(true)
				}
				if mine {
					f.AssignedTo = ptr(a.sess.UserID)
				}
				if priority != "" {
					p := backend.Priority(priority)
					if !p.Valid() {
						return utils.ErrInvalidPayload(fmt.Errorf("priority %q is not low, medium or high", priority))
					}
					f.Priority = &p
				}
				if search != "" {
					f.Search = &search
				}
				if dueBefore != "" {
					before, err := utils.ParseDateFlagAt(dueBefore, a.now())
					if err != nil {
						return err
					}
					f.DueBefore = before
				}
				a.sess.Tasks.SetFilters(f)

				tasks := a.sess.Tasks.Filtered(hubID)
				if overdue {
					tasks = a.sess.Tasks.Overdue(hubID, a.now())
				}
				return a.respond(ResultInfoOnly, map[string]any{"tasks": nonNil(tasks), "count": len(tasks)}, func(w io.Writer) {
					if len(tasks) == 0 {
						_, _ = fmt.Fprintln(w, "No tasks")
						return
					}
					for _, t := range tasks {
						printTask(w, t)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	listCmd.Flags().Bool("open", false, "Only open tasks")
	listCmd.Flags().Bool("done", false, "Only completed tasks")
	listCmd.Flags().Bool("mine", false, "Only tasks assigned to you")
	listCmd.Flags().Bool("overdue", false, "Only overdue tasks")
	listCmd.Flags().StringP("priority", "p", "", "Only this priority (low, medium, high)")
	listCmd.Flags().String("search", "", "Filter by title or description")
	listCmd.Flags().String("due-before", "", "Only tasks due before this date")
	return listCmd
}

func printTask(w io.Writer, t backend.Task) {
	line := fmt.Sprintf("%s %s  %s [%s]", t.ID, checkbox(t.Completed), t.Title, t.Priority)
	if t.DueDate != nil {
		line += " due " + formatDate(t.DueDate)
	}
	if t.AssignedTo != "" {
		who := t.AssigneeName
		if who == "" {
			who = t.AssignedTo
		}
		line += " -> " + who
	}
	_, _ = fmt.Fprintln(w, line)
}

func newTaskAddCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, _ := cmd.Flags().GetString("priority")
			dueStr, _ := cmd.Flags().GetString("due")
			assign, _ := cmd.Flags().GetString("assign")
			description, _ := cmd.Flags().GetString("description")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				due, err := utils.ParseDateFlagAt(dueStr, a.now())
				if err != nil {
					return err
				}
				task, err := a.sess.Tasks.CreateTask(ctx, hubID, backend.TaskInput{
					Title:       args[0],
					Description: description,
					Priority:    backend.Priority(priority),
					DueDate:     due,
					AssignedTo:  assign,
					CreatedBy:   a.sess.UserID,
				})
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "add", "task": task}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Added task: %s\n", task.Title)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCmd.Flags().StringP("priority", "p", "", "Priority: low, medium (default) or high")
	addCmd.Flags().String("due", "", "Due date (YYYY-MM-DD, today, tomorrow, +Nd)")
	addCmd.Flags().String("assign", "", "Assign to a user id")
	addCmd.Flags().String("description", "", "Description")
	return addCmd
}

func newTaskDoneCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id|title>",
		Short: "Toggle a task between open and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := loadTasks(ctx, a)
				if err != nil {
					return err
				}
				t, err := pick(a, a.sess.Tasks.Tasks(hubID), taskLabel, args[0], "task")
				if err != nil {
					return err
				}
				task, err := a.sess.Tasks.ToggleComplete(ctx, t.ID)
				if err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "toggle", "task": task}, func(w io.Writer) {
					state := "Reopened"
					if task.Completed {
						state = "Completed"
					}
					_, _ = fmt.Fprintf(w, "%s task: %s\n", state, task.Title)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTaskRemoveCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id|title>...",
		Short: "Delete tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := loadTasks(ctx, a)
				if err != nil {
					return err
				}
				var titles []string
				for _, arg := range args {
					t, err := pick(a, a.sess.Tasks.Tasks(hubID), taskLabel, arg, "task")
					if err != nil {
						return err
					}
					a.sess.Tasks.Select(t.ID)
					titles = append(titles, t.Title)
				}
				if err := a.sess.Tasks.DeleteSelected(ctx); err != nil {
					return err
				}
				return a.respond(ResultActionCompleted, map[string]any{"action": "delete", "tasks": titles}, func(w io.Writer) {
					for _, t := range titles {
						_, _ = fmt.Fprintf(w, "Deleted task: %s\n", t)
					}
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTaskStatsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := loadTasks(ctx, a)
				if err != nil {
					return err
				}
				st := a.sess.Tasks.Stats(hubID, a.now())
				return a.respond(ResultInfoOnly, map[string]any{"stats": st}, func(w io.Writer) {
					_, _ = fmt.Fprintf(w, "Total: %d\nCompleted: %d\nPending: %d\nOverdue: %d\nDone: %d%%\n",
						st.Total, st.Completed, st.Pending, st.Overdue, st.Percent)
				})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func taskLabel(t backend.Task) string {
	return fmt.Sprintf("%s %s", checkbox(t.Completed), t.Title)
}

func ptr[T any](v T) *T { return &v }
