package export

import (
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const defaultPreviewWidth = 100

// Preview renders markdown for w. Terminals get a dark or light style sized
// to their width; anything else gets the plain notty style.
func Preview(w io.Writer, markdown string) error {
	style, width := previewStyle(w)
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return errors.Wrap(err, "preview: renderer")
	}
	out, err := r.Render(markdown)
	if err != nil {
		return errors.Wrap(err, "preview: render")
	}
	_, err = io.WriteString(w, out)
	return err
}

func previewStyle(w io.Writer) (string, int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "notty", defaultPreviewWidth
	}
	width := defaultPreviewWidth
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
		width = cols - 2
	}
	if termenv.HasDarkBackground() {
		return "dark", width
	}
	return "light", width
}
