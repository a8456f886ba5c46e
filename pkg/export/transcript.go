package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/pkg/errors"
)

// WriteTranscriptLog writes every transcript entry to
// <dir>/meeting_transcript_<stamp>.log and returns the path.
func WriteTranscriptLog(state *meeting.State, dir string, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "transcript log: create dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("meeting_transcript_%s.log", at.UTC().Format(stampLayout)))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "transcript log: create")
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, e := range state.Transcript() {
		fmt.Fprintf(w, "[%s] TURN %d | %s | %s\n%s\n\n", e.TimestampUTC, e.Turn, e.Phase, e.Speaker, e.Content)
	}
	if err := w.Flush(); err != nil {
		return "", errors.Wrap(err, "transcript log: write")
	}
	return path, nil
}
