// Package export writes the outcome of a meeting: the development plan (or
// draft) as Markdown and JSON, and the plain transcript log.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
)

const (
	stampLayout       = "20060102_150405"
	noArtifactMessage = "_No finalized artifact captured._"
)

// Result lists the files written by Export. HTMLPath is empty unless HTML
// output is enabled.
type Result struct {
	MarkdownPath string
	JSONPath     string
	HTMLPath     string
	Markdown     string
}

type Exporter struct {
	dir  string
	html bool
	now  func() time.Time
}

type Option func(*Exporter)

func WithHTML(on bool) Option {
	return func(e *Exporter) { e.html = on }
}

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExporter(dir string, opts ...Option) (*Exporter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("exporter: empty output dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "exporter: create output dir")
	}
	e := &Exporter{dir: dir, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// BaseName is project_development_plan_<stamp> for a fully approved meeting
// and project_development_draft_<stamp> otherwise.
func BaseName(finalized bool, at time.Time) string {
	kind := "draft"
	if finalized {
		kind = "plan"
	}
	return fmt.Sprintf("project_development_%s_%s", kind, at.UTC().Format(stampLayout))
}

func (e *Exporter) Export(state *meeting.State, finalized bool) (Result, error) {
	if state == nil {
		return Result{}, errors.New("exporter: nil state")
	}
	base := filepath.Join(e.dir, BaseName(finalized, e.now()))
	md := RenderMarkdown(state, finalized)

	res := Result{
		MarkdownPath: base + ".md",
		JSONPath:     base + ".json",
		Markdown:     md,
	}
	if err := os.WriteFile(res.MarkdownPath, []byte(md), 0o644); err != nil {
		return Result{}, errors.Wrap(err, "exporter: write markdown")
	}

	doc, err := json.MarshalIndent(state.Snapshot(), "", "  ")
	if err != nil {
		return Result{}, errors.Wrap(err, "exporter: marshal state")
	}
	if err := os.WriteFile(res.JSONPath, doc, 0o644); err != nil {
		return Result{}, errors.Wrap(err, "exporter: write json")
	}

	if e.html {
		res.HTMLPath = base + ".html"
		if err := writeHTML(res.HTMLPath, md); err != nil {
			return Result{}, err
		}
	}

	log.Info().
		Str("markdown", res.MarkdownPath).
		Str("json", res.JSONPath).
		Bool("finalized", finalized).
		Msg("exported meeting")
	return res, nil
}

func writeHTML(path, md string) error {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n")
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return errors.Wrap(err, "exporter: render html")
	}
	buf.WriteString("</body></html>\n")
	return errors.Wrap(os.WriteFile(path, buf.Bytes(), 0o644), "exporter: write html")
}

type section struct {
	title string
	phase string
}

var planSections = []section{
	{"Executive Summary", phases.RequirementsGathering},
	{"Stakeholder Analysis", phases.RequirementsGathering},
	{"Requirements Specification", phases.RequirementsGathering},
	{"Architecture Overview", phases.SystemDesign},
	{"Tech Stack", phases.SystemDesign},
	{"Timeline (Waterfall Aligned)", phases.ImplementationPlanning},
	{"Risk Analysis", phases.ImplementationPlanning},
	{"Testing Plan", phases.TestingStrategy},
	{"Deployment Plan", phases.DeploymentPlanning},
	{"Maintenance Plan", phases.MaintenanceStrategy},
}

// RenderMarkdown renders the plan document. Each section shows the summary of
// its phase's final artifact.
func RenderMarkdown(state *meeting.State, finalized bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project Development Plan: %s\n\n", state.ProjectName())
	if !finalized {
		b.WriteString("_Draft: not every Waterfall phase was converged and approved._\n\n")
	}
	for _, s := range planSections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.title, artifactText(state, s.phase))
	}
	return b.String()
}

func artifactText(state *meeting.State, phase string) string {
	ps, ok := state.PhaseState(phase)
	if !ok || len(ps.Artifact) == 0 {
		return noArtifactMessage
	}
	if summary, ok := ps.Artifact["summary"].(string); ok {
		return summary
	}
	b, err := json.Marshal(ps.Artifact)
	if err != nil {
		return fmt.Sprint(ps.Artifact)
	}
	return string(b)
}
