// Package events publishes meeting progress on a Watermill topic so other
// processes (or the CLI's own log mirror) can follow a session live.
package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const DefaultTopic = "kickoff.meeting"

const (
	TypeTurnAppended    = "turn.appended"
	TypeGuardrail       = "guardrail"
	TypePhaseConverged  = "phase.converged"
	TypePhaseApproved   = "phase.approved"
	TypePhaseRejected   = "phase.rejected"
	TypePhaseExtended   = "phase.extended"
	TypeCheckpointSaved = "checkpoint.saved"
	TypeMeetingFinished = "meeting.finished"
)

type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase,omitempty"`
	Turn      int            `json:"turn,omitempty"`
	Speaker   string         `json:"speaker,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	if e.Type == "" {
		return Event{}, errors.New("decode event: missing type")
	}
	return e, nil
}
