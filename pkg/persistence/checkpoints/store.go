// Package checkpoints persists meeting snapshots so a session can be resumed.
package checkpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/pkg/errors"
)

// Reasons a checkpoint is written.
const (
	ReasonSessionStart      = "session_start"
	ReasonPhaseApproved     = "phase_approved"
	ReasonPhaseRejected     = "phase_rejected"
	ReasonPhaseNotConverged = "phase_not_converged"
	ReasonInterrupted       = "interrupted"
	ReasonCompleted         = "completed"
	ReasonAborted           = "aborted"
)

const stampLayout = "20060102T150405.000000Z"

var ErrNotFound = errors.New("checkpoint not found")

// Record describes one stored checkpoint. Payload is the full checkpoint JSON.
type Record struct {
	ID          string    `json:"id"`
	ProjectSlug string    `json:"project_slug"`
	ProjectName string    `json:"project_name"`
	SessionID   string    `json:"session_id"`
	PhaseNumber int       `json:"phase_number"`
	Phase       string    `json:"phase"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
	Payload     []byte    `json:"-"`
}

// Query filters List results. Empty fields match everything.
type Query struct {
	ProjectSlug string
	SessionID   string
	Reason      string
	Limit       int
}

type Store interface {
	Save(ctx context.Context, state *meeting.State, reason string) (Record, error)
	Load(ctx context.Context, id string) (Record, error)
	Latest(ctx context.Context, projectSlug string) (Record, error)
	// List returns matching records, newest first.
	List(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

type document struct {
	meeting.Snapshot
	CheckpointReason     string `json:"checkpoint_reason"`
	CheckpointCreatedUTC string `json:"checkpoint_created_utc"`
}

// Encode builds the checkpoint payload and its describing record.
func Encode(state *meeting.State, reason string, createdAt time.Time) (Record, error) {
	if state == nil {
		return Record{}, errors.New("checkpoint: nil state")
	}
	if strings.TrimSpace(reason) == "" {
		return Record{}, errors.New("checkpoint: empty reason")
	}
	createdAt = createdAt.UTC()
	snap := state.Snapshot()
	payload, err := json.MarshalIndent(document{
		Snapshot:             snap,
		CheckpointReason:     reason,
		CheckpointCreatedUTC: createdAt.Format(time.RFC3339Nano),
	}, "", "  ")
	if err != nil {
		return Record{}, errors.Wrap(err, "checkpoint: marshal")
	}

	rec := Record{
		ProjectSlug: Slugify(snap.ProjectName),
		ProjectName: snap.ProjectName,
		SessionID:   snap.SessionID,
		PhaseNumber: snap.CurrentPhaseIndex + 1,
		Phase:       snap.CurrentPhase,
		Reason:      reason,
		CreatedAt:   createdAt,
		Payload:     payload,
	}
	rec.ID = FileStem(rec)
	return rec, nil
}

// Restore rebuilds the meeting state stored in rec.
func Restore(rec Record, opts ...meeting.Option) (*meeting.State, error) {
	state, err := meeting.FromJSON(rec.Payload, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", rec.ID)
	}
	return state, nil
}

// FileStem is <slug>_phase<NN>_<reason>_<UTC stamp>.
func FileStem(rec Record) string {
	return fmt.Sprintf("%s_phase%02d_%s_%s", rec.ProjectSlug, rec.PhaseNumber, rec.Reason, rec.CreatedAt.UTC().Format(stampLayout))
}

var nonSlug = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Slugify lowercases name and folds runs of other characters into "_".
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "project"
	}
	return s
}

type storeOptions struct {
	now func() time.Time
}

type Option func(*storeOptions)

// WithClock replaces time.Now for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
