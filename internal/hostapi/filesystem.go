// ABOUTME: Filesystem capability provider confined to a sandbox directory.
// ABOUTME: Each module gets its own subdirectory; os.Root rejects paths escaping it.

package hostapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/manifest"
)

const maxFileBytes = 4 << 20

// Sandbox implements read, write, list and delete under a root directory.
type Sandbox struct {
	root *os.Root
}

// FileEntry describes one directory entry.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FileReply is returned by every filesystem op.
type FileReply struct {
	Path    string      `json:"path,omitempty"`
	Text    string      `json:"text,omitempty"`
	Entries []FileEntry `json:"entries,omitempty"`
	Written int         `json:"written,omitempty"`
}

// OpenSandbox creates dir if needed and opens it as the sandbox root.
func OpenSandbox(dir string) (*Sandbox, error) {
	if dir == "" {
		return nil, fmt.Errorf("sandbox directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening sandbox: %w", err)
	}
	return &Sandbox{root: root}, nil
}

// Close releases the sandbox root.
func (s *Sandbox) Close() error {
	return s.root.Close()
}

// Handle dispatches on the request op.
func (s *Sandbox) Handle(ctx context.Context, moduleID manifest.ID, payload json.RawMessage) (json.RawMessage, error) {
	req, err := DecodeRequest(payload)
	if err != nil {
		return nil, err
	}

	dir, err := s.moduleRoot(moduleID)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	path := req.Path
	if path == "" {
		path = "."
	}

	switch req.Op {
	case "read":
		f, err := dir.Open(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxFileBytes))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return reply(FileReply{Path: path, Text: string(data)})

	case "write":
		if len(req.Text) > maxFileBytes {
			return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrBadRequest, maxFileBytes)
		}
		if err := dir.WriteFile(path, []byte(req.Text), 0o640); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		return reply(FileReply{Path: path, Written: len(req.Text)})

	case "list":
		f, err := dir.Open(path)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", path, err)
		}
		defer f.Close()
		infos, err := f.ReadDir(-1)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", path, err)
		}
		entries := make([]FileEntry, 0, len(infos))
		for _, d := range infos {
			e := FileEntry{Name: d.Name(), IsDir: d.IsDir()}
			if info, err := d.Info(); err == nil {
				e.Size = info.Size()
			}
			entries = append(entries, e)
		}
		slices.SortFunc(entries, func(a, b FileEntry) int { return strings.Compare(a.Name, b.Name) })
		return reply(FileReply{Path: path, Entries: entries})

	case "delete":
		if err := dir.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("deleting %s: %w", path, err)
		}
		return reply(FileReply{Path: path})
	}
	return nil, unsupported(catalog.Filesystem, req.Op)
}

func (s *Sandbox) moduleRoot(id manifest.ID) (*os.Root, error) {
	name := string(id)
	if err := s.root.Mkdir(name, 0o750); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("preparing sandbox for %s: %w", id, err)
	}
	return s.root.OpenRoot(name)
}
