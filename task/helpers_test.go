package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store with the same transition rules as the
// SQLite store.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*Record)}
}

func (s *memStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, rec.ID)
	}
	r := *rec
	r.Status = StatusPending
	s.recs[rec.ID] = &r
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

func (s *memStore) MarkProcessing(_ context.Context, id string, at time.Time) error {
	return s.transition(id, StatusPending, func(r *Record) {
		r.Status = StatusProcessing
		r.StartTime = &at
	})
}

func (s *memStore) MarkCompleted(_ context.Context, id string, at time.Time) error {
	return s.transition(id, StatusProcessing, func(r *Record) {
		r.Status = StatusCompleted
		r.EndTime = &at
	})
}

func (s *memStore) MarkFailed(_ context.Context, id string, msg string, at time.Time) error {
	if msg == "" {
		msg = "Unknown error"
	}
	return s.transition(id, StatusProcessing, func(r *Record) {
		r.Status = StatusFailed
		r.EndTime = &at
		r.ErrorMessage = &msg
	})
}

func (s *memStore) ListByStatus(_ context.Context, status Status) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.recs {
		if rec.Status == status {
			r := *rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.Before(out[j].UploadTime) })
	return out, nil
}

func (s *memStore) transition(id string, from Status, apply func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != from {
		return fmt.Errorf("%w: task %s is %s, expected %s", ErrInvalidTransition, id, rec.Status, from)
	}
	apply(rec)
	return nil
}

// put stores rec as is, bypassing the Pending-only Create.
func (s *memStore) put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rec
	s.recs[rec.ID] = &r
}

// memStager keeps parameter files in memory and writes artifacts under dir.
type memStager struct {
	mu     sync.Mutex
	dir    string
	params map[string]*Params
}

func newMemStager(t *testing.T) *memStager {
	return &memStager{dir: t.TempDir(), params: make(map[string]*Params)}
}

func (s *memStager) Stage(p *Params, attachments []Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.params[p.TaskID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, p.TaskID)
	}
	cp := *p
	for _, a := range attachments {
		name, err := AttachmentName(a.Filename)
		if err != nil {
			return err
		}
		cp.Attachments = append(cp.Attachments, name)
	}
	s.params[p.TaskID] = &cp
	return nil
}

func (s *memStager) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.params, id)
	return nil
}

func (s *memStager) Load(id string) (*Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params[id]
	if !ok {
		return nil, fmt.Errorf("open %s/%s: %w", id, ParamsFile, os.ErrNotExist)
	}
	cp := *p
	return &cp, nil
}

func (s *memStager) ResultPath(id string) string {
	return filepath.Join(s.dir, "generation_"+id+".txt")
}

func (s *memStager) Staged() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.params {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStager) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.params[id]
	return ok
}

// mockGenerator is a Generator for testing. Without generateFunc it writes
// one sequence per requested generation to the output file.
type mockGenerator struct {
	generateFunc func(ctx context.Context, p *Params) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, p *Params) (string, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, p)
	}
	return writeArtifact(p)
}

func writeArtifact(p *Params) (string, error) {
	out := strings.Repeat(strings.Repeat("A", SequenceLen)+"\n", p.GenNum)
	if err := os.WriteFile(p.OutputFile, []byte(out), 0o644); err != nil {
		return "", err
	}
	return p.OutputFile, nil
}

const validSeeds = "ACGUACGUACGUACGUACGU\nUUUUCCCCAAAAGGGGACGU"

func newSubmission(id string) *Submission {
	return &Submission{
		ID:       id,
		Name:     "job " + id,
		SeedSeqs: validSeeds,
		GenNum:   3,
	}
}
