package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func NewCheckpointsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect saved meeting checkpoints",
	}
	cmd.AddCommand(newCheckpointsListCommand(app))
	return cmd
}

func newCheckpointsListCommand(app *App) *cobra.Command {
	var q checkpoints.Query
	var project, output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Settings()
			if err != nil {
				return err
			}
			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer store.Close()

			if project != "" {
				q.ProjectSlug = checkpoints.Slugify(project)
			}
			recs, err := store.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printCheckpoints(cmd.OutOrStdout(), recs, output)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Only show checkpoints of this project")
	cmd.Flags().StringVar(&q.SessionID, "session", "", "Only show checkpoints of this session id")
	cmd.Flags().StringVar(&q.Reason, "reason", "", "Only show checkpoints saved for this reason")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "Maximum number of checkpoints (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table or json)")
	return cmd
}

func printCheckpoints(w io.Writer, recs []checkpoints.Record, output string) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(recs), "encode checkpoints")
	case outputTable:
		if len(recs) == 0 {
			_, err := fmt.Fprintln(w, "No checkpoints found.")
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("ID", "PROJECT", "PHASE", "REASON", "CREATED")
		for _, r := range recs {
			t.Row(r.ID, r.ProjectName, strconv.Itoa(r.PhaseNumber)+" "+r.Phase, r.Reason,
				r.CreatedAt.UTC().Format(time.RFC3339))
		}
		_, err := fmt.Fprintln(w, t.String())
		return err
	default:
		return errors.Errorf("unknown output format %q", output)
	}
}
