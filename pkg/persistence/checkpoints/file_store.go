package checkpoints

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileStore keeps one JSON document per checkpoint in a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

var _ Store = &FileStore{}

var fileNameRe = regexp.MustCompile(`^(.+)_phase(\d{2,})_([a-z_]+)_(\d{8}T\d{6}\.\d{6}Z)\.json$`)

func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file checkpoint store: empty dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "file checkpoint store: create dir")
	}
	o := buildOptions(opts)
	return &FileStore{dir: dir, now: o.now}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Close() error { return nil }

// Path returns the file backing a checkpoint id.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, strings.TrimSuffix(id, ".json")+".json")
}

func (s *FileStore) Save(ctx context.Context, state *meeting.State, reason string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, err := Encode(state, reason, s.now())
	if err != nil {
		return Record{}, err
	}
	path := s.Path(rec.ID)
	if err := os.WriteFile(path, rec.Payload, 0o644); err != nil {
		return Record{}, errors.Wrap(err, "file checkpoint store: write")
	}
	log.Debug().Str("path", path).Str("reason", reason).Msg("checkpoint saved")
	return rec, nil
}

func (s *FileStore) Load(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	name := filepath.Base(strings.TrimSuffix(id, ".json") + ".json")
	return s.readRecord(name)
}

func (s *FileStore) Latest(ctx context.Context, projectSlug string) (Record, error) {
	recs, err := s.List(ctx, Query{ProjectSlug: projectSlug, Limit: 1})
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

func (s *FileStore) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "file checkpoint store: read dir")
	}

	out := []Record{}
	for _, e := range entries {
		if e.IsDir() || !fileNameRe.MatchString(e.Name()) {
			continue
		}
		rec, err := s.readRecord(e.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable checkpoint")
			continue
		}
		if !matches(rec, q) {
			continue
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(rec Record, q Query) bool {
	if q.ProjectSlug != "" && rec.ProjectSlug != q.ProjectSlug {
		return false
	}
	if q.SessionID != "" && rec.SessionID != q.SessionID {
		return false
	}
	if q.Reason != "" && rec.Reason != q.Reason {
		return false
	}
	return true
}

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}

type payloadHeader struct {
	ProjectName string `json:"project_name"`
	SessionID   string `json:"session_id"`
	Phase       string `json:"current_phase"`
}

func (s *FileStore) readRecord(name string) (Record, error) {
	m := fileNameRe.FindStringSubmatch(name)
	if m == nil {
		return Record{}, errors.Wrapf(ErrNotFound, "file checkpoint store: %s is not a checkpoint file", name)
	}
	payload, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, errors.Wrapf(ErrNotFound, "file checkpoint store: %s", name)
		}
		return Record{}, errors.Wrap(err, "file checkpoint store: read")
	}

	var h payloadHeader
	if err := json.Unmarshal(payload, &h); err != nil {
		return Record{}, errors.Wrapf(err, "file checkpoint store: decode %s", name)
	}
	phaseNumber, _ := strconv.Atoi(m[2])
	createdAt, err := time.Parse(stampLayout, m[4])
	if err != nil {
		return Record{}, errors.Wrapf(err, "file checkpoint store: timestamp of %s", name)
	}

	return Record{
		ID:          strings.TrimSuffix(name, ".json"),
		ProjectSlug: m[1],
		ProjectName: h.ProjectName,
		SessionID:   h.SessionID,
		PhaseNumber: phaseNumber,
		Phase:       h.Phase,
		Reason:      m[3],
		CreatedAt:   createdAt.UTC(),
		Payload:     payload,
	}, nil
}
