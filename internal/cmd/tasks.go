package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/runger/bibupload/internal/storage"
)

func newTasksCmd(a *app) *cobra.Command {
	var (
		status string
		proc   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List queued and finished upload tasks",
		Long: `List upload tasks, newest first.

Examples:
  bibupload tasks                    # Last 20 tasks
  bibupload tasks --status WAITING   # Tasks not yet run
  bibupload tasks --limit 5 --offset 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := storage.TaskStatus(strings.ToUpper(status))
			switch st {
			case "", storage.TaskWaiting, storage.TaskRunning, storage.TaskDone, storage.TaskError:
			default:
				return fmt.Errorf("unknown status %q", status)
			}

			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			tasks, err := store.ListTasks(cmd.Context(), storage.TaskQuery{
				Proc:   proc,
				Status: st,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, styleDim.Render("No tasks."))
				return nil
			}

			t := &table{
				header: []string{"ID", "STATUS", "USER", "CREATED", "PROGRESS", "ARGUMENTS"},
				styles: []func(string) lipgloss.Style{nil, statusStyle},
			}
			for _, task := range tasks {
				t.add(
					strconv.FormatInt(task.ID, 10),
					string(task.Status),
					task.User,
					time.UnixMilli(task.CreatedUnixMs).Format("2006-01-02 15:04:05"),
					task.Progress,
					task.Arguments,
				)
			}
			t.render(out, termWidth())
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (WAITING, RUNNING, DONE, ERROR)")
	cmd.Flags().StringVar(&proc, "proc", "", "filter by process name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of tasks")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of tasks to skip")
	return cmd
}

func statusStyle(status string) lipgloss.Style {
	switch storage.TaskStatus(status) {
	case storage.TaskDone:
		return styleOK
	case storage.TaskError:
		return styleError
	case storage.TaskRunning:
		return styleWarn
	default:
		return styleDim
	}
}
