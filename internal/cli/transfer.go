package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/matchdb/internal/xmlio"
)

// ImportSummary is the result of import.
type ImportSummary struct {
	File     string `json:"file"`
	Version  string `json:"version"`
	Matches  int    `json:"matches"`
	Restored int    `json:"restored"`
	Failed   int    `json:"failed"`
}

// RenderText implements TextRenderer.
func (r ImportSummary) RenderText(w io.Writer) {
	okColor.Fprintf(w, "Imported %d matches from %s (version %s)\n", r.Matches, r.File, r.Version)
	if r.Restored > 0 {
		fmt.Fprintf(w, "Restored %d attribute values\n", r.Restored)
	}
	if r.Failed > 0 {
		warnColor.Fprintf(w, "%d rows or values could not be written\n", r.Failed)
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xml>",
		Short: "Import matches from a matches-cache XML file",
		Long: `Import matches from a matches-cache XML file.

The status, error, overlap, volume, old_volume and probability fields are
created when missing, followed by comment, duplicate and the num_duplicates
meta field. Attributes naming other existing fields are restored as well.
Rows that cannot be written are skipped and counted; the command then exits
with status 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				res, err := xmlio.ImportFile(cmd.Context(), s.store, args[0], xmlio.WithLogger(rootOpts.Logger()))
				if err != nil {
					return WrapExitError(ExitFailure, "import failed", err)
				}
				if err := out.Success(ImportSummary{
					File:     args[0],
					Version:  res.Version,
					Matches:  res.Matches,
					Restored: res.Restored,
					Failed:   res.Failed,
				}); err != nil {
					return err
				}
				if res.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("import of %s was incomplete", args[0]))
				}
				return nil
			})
		},
	}
}

// ExportSummary is the result of export.
type ExportSummary struct {
	File    string `json:"file"`
	Matches int    `json:"matches"`
}

// RenderText implements TextRenderer.
func (r ExportSummary) RenderText(w io.Writer) {
	okColor.Fprintf(w, "Exported %d matches to %s\n", r.Matches, r.File)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.xml>",
		Short: "Export all matches and fields to a matches-cache XML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, func(s *session, out *OutputFormatter) error {
				if err := xmlio.ExportFile(cmd.Context(), s.store, args[0]); err != nil {
					return WrapExitError(ExitFailure, "export failed", err)
				}
				n, err := s.store.MatchCount(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "could not count matches", err)
				}
				return out.Success(ExportSummary{File: args[0], Matches: n})
			})
		},
	}
}
