// Package workspace lays out task files under the work directory:
//
//	tasks/tasks.db
//	tasks/uploads/<id>/form_data.json   parameters and attachments
//	tasks/results/<id>/generation_<id>.txt
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"grapelm/task"
)

// Layout implements task.Stager on the local filesystem.
type Layout struct {
	root string
}

// New creates the task directories under root. Paths handed out by the
// layout are absolute, so they stay valid for a generator running in
// another directory.
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	l := &Layout{root: abs}
	for _, dir := range []string{l.uploadsDir(), l.resultsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) DBPath() string { return filepath.Join(l.root, "tasks", "tasks.db") }

func (l *Layout) uploadsDir() string { return filepath.Join(l.root, "tasks", "uploads") }

func (l *Layout) resultsDir() string { return filepath.Join(l.root, "tasks", "results") }

func (l *Layout) UploadDir(id string) string { return filepath.Join(l.uploadsDir(), id) }

func (l *Layout) ResultDir(id string) string { return filepath.Join(l.resultsDir(), id) }

func (l *Layout) ParamsPath(id string) string { return filepath.Join(l.UploadDir(id), task.ParamsFile) }

func (l *Layout) ResultPath(id string) string {
	return filepath.Join(l.ResultDir(id), fmt.Sprintf("generation_%s.txt", id))
}

// Stage writes attachments and the parameter file for p.TaskID. The upload
// and result directories are created exclusively, so an id that already
// has either is reported as task.ErrDuplicateTask and its files are not
// touched. On any other failure everything written by this call is removed.
func (l *Layout) Stage(p *task.Params, attachments []task.Attachment) (err error) {
	dir := l.UploadDir(p.TaskID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", task.ErrDuplicateTask, p.TaskID)
		}
		return err
	}
	// A leftover result directory reserves the id too.
	if err := os.Mkdir(l.ResultDir(p.TaskID), 0o755); err != nil {
		_ = os.RemoveAll(dir)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", task.ErrDuplicateTask, p.TaskID)
		}
		return err
	}
	defer func() {
		if err != nil {
			_ = l.Discard(p.TaskID)
		}
	}()

	p.Attachments = p.Attachments[:0]
	for _, a := range attachments {
		name, err := task.AttachmentName(a.Filename)
		if err != nil {
			return err
		}
		if err := writeAttachment(filepath.Join(dir, name), a); err != nil {
			return fmt.Errorf("write attachment %s: %w", name, err)
		}
		p.Attachments = append(p.Attachments, name)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return writeFileSync(l.ParamsPath(p.TaskID), data)
}

// Load reads the parameter file staged for id.
func (l *Layout) Load(id string) (*task.Params, error) {
	data, err := os.ReadFile(l.ParamsPath(id))
	if err != nil {
		return nil, err
	}
	var p task.Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", task.ParamsFile, err)
	}
	return &p, nil
}

// Discard removes everything staged for id.
func (l *Layout) Discard(id string) error {
	return errors.Join(
		os.RemoveAll(l.UploadDir(id)),
		os.RemoveAll(l.ResultDir(id)),
	)
}

// Staged lists the ids that have an upload or a result directory.
func (l *Layout) Staged() ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, root := range []string{l.uploadsDir(), l.resultsDir()} {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && !seen[e.Name()] {
				seen[e.Name()] = true
				ids = append(ids, e.Name())
			}
		}
	}
	return ids, nil
}

func writeAttachment(path string, a task.Attachment) error {
	src, err := a.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// writeFileSync writes through a temp file and renames, so a reader never
// sees a partial parameter file.
func writeFileSync(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
