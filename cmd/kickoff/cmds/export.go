package cmds

import (
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/go-go-golems/kickoff/pkg/export"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type exportSettings struct {
	Checkpoint string
	Project    string
	OutputDir  string
	HTML       bool
	Preview    bool
	Clipboard  bool
}

func NewExportCommand(app *App) *cobra.Command {
	es := &exportSettings{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the plan (or draft) stored in a checkpoint",
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

			rec, err := loadCheckpoint(cmd.Context(), store, es.Checkpoint, es.Project)
			if err != nil {
				return err
			}
			state, err := checkpoints.Restore(rec)
			if err != nil {
				return err
			}

			dir := s.OutputDir
			if es.OutputDir != "" {
				dir = es.OutputDir
			}
			exporter, err := export.NewExporter(dir, export.WithHTML(es.HTML || s.HTMLExport))
			if err != nil {
				return err
			}
			res, err := exporter.Export(state, state.IsFullyApproved())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if es.Preview {
				if err := export.Preview(out, res.Markdown); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Markdown plan: %s\nStructured JSON: %s\n", res.MarkdownPath, res.JSONPath)
			if res.HTMLPath != "" {
				fmt.Fprintf(out, "HTML plan: %s\n", res.HTMLPath)
			}
			if es.Clipboard {
				if err := clipboard.WriteAll(res.Markdown); err != nil {
					return errors.Wrap(err, "copy plan to clipboard")
				}
				fmt.Fprintln(os.Stderr, "Plan copied to clipboard.")
			}
			log.Debug().
				Str("checkpoint", rec.ID).
				Str("markdown", res.MarkdownPath).
				Msg("exported checkpoint")
			return nil
		},
	}

	cmd.Flags().StringVar(&es.Checkpoint, "checkpoint", "", "Checkpoint id")
	cmd.Flags().StringVar(&es.Project, "project", "", "Export the latest checkpoint of this project")
	cmd.Flags().StringVar(&es.OutputDir, "output-dir", "", "Output directory (defaults to output_dir)")
	cmd.Flags().BoolVar(&es.HTML, "html", false, "Also write an HTML rendering")
	cmd.Flags().BoolVar(&es.Preview, "preview", false, "Render the markdown in the terminal")
	cmd.Flags().BoolVar(&es.Clipboard, "clipboard", false, "Copy the markdown to the clipboard")
	return cmd
}
