package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kvgribko/jobsched/internal/persistence"
	"github.com/kvgribko/jobsched/internal/scheduler"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect saved scheduler snapshots",
	}
	cmd.AddCommand(
		newStateShowCmd(),
		newStateListCmd(),
		newStateHistoryCmd(),
		newStateDeleteCmd(),
	)
	return cmd
}

func newStateShowCmd() *cobra.Command {
	var (
		configPath string
		storage    storageFlags
		format     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the jobs of a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := storage.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			state, err := st.store.LoadState(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "table":
				fmt.Fprintf(out, "%s: %d jobs, max concurrent %d\n\n", st.where, state.Len(), state.MaxConcurrent)
				return printState(out, state)
			case "json":
				return writeEncoded(out, persistence.JSONCodec{}, state)
			case "yaml":
				return writeEncoded(out, persistence.YAMLCodec{}, state)
			default:
				return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file naming the storage")
	storage.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func writeEncoded(w io.Writer, codec scheduler.StateCodec, st scheduler.State) error {
	data, err := codec.EncodeState(st)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func printState(w io.Writer, st scheduler.State) error {
	t := newTable("COLLECTION", "ID", "TASK", "STATUS", "ATTEMPTS", "LAST ERROR")
	collections := []struct {
		name string
		jobs []scheduler.JobState
	}{
		{"pending", st.Pending},
		{"running", st.Running},
		{"completed", st.Completed},
		{"failed", st.Failed},
	}
	for _, c := range collections {
		for _, js := range c.jobs {
			t.Row(c.name, js.ID, js.Task, js.Status.String(),
				fmt.Sprintf("%d/%d", js.Attempts, js.MaxRestarts+1), js.LastError)
		}
	}
	return printTable(w, t)
}

var (
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// newTable returns the table layout shared by the state commands.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers(headers...)
}

func printTable(w io.Writer, t *table.Table) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func newStateListCmd() *cobra.Command {
	var (
		configPath string
		storage    storageFlags
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots in a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := storage.openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			infos, err := db.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintln(out, "no snapshots")
				return nil
			}
			t := newTable("NAME", "JOBS", "SAVED")
			for _, info := range infos {
				t.Row(info.Name, strconv.Itoa(info.Jobs), humanize.Time(info.SavedAt))
			}
			return printTable(out, t)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file naming the storage")
	storage.register(cmd)
	return cmd
}

func newStateHistoryCmd() *cobra.Command {
	var (
		configPath string
		storage    storageFlags
	)

	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "Print the recorded events of a job across runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := storage.openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			history, err := db.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("%w: no events recorded for %q", scheduler.ErrJobNotFound, args[0])
			}
			t := newTable("TIME", "RUN", "EVENT", "ATTEMPT", "DETAIL")
			for _, e := range history {
				t.Row(e.Timestamp.Local().Format(time.DateTime), shortID(e.RunID), e.Type,
					strconv.Itoa(e.Attempt), e.Detail)
			}
			return printTable(cmd.OutOrStdout(), t)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file naming the storage")
	storage.register(cmd)
	return cmd
}

func newStateDeleteCmd() *cobra.Command {
	var (
		configPath string
		storage    storageFlags
	)

	cmd := &cobra.Command{
		Use:   "delete <snapshot>",
		Short: "Delete a snapshot from a SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			db, err := storage.openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file naming the storage")
	storage.register(cmd)
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
