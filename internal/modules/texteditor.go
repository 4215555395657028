// ABOUTME: Text editor module saving files in the filesystem sandbox
// ABOUTME: and keeping an autosaved draft in module storage.

package modules

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/2389/toolshell/internal/catalog"
	"github.com/2389/toolshell/internal/hostapi"
	"github.com/2389/toolshell/internal/registry"
)

const draftKey = "draft"

// TextEditor edits plain text files.
type TextEditor struct{}

type textEditorInput struct {
	Action string `json:"action"` // open, save, list, draft, save_draft, stats
	Path   string `json:"path"`
	Text   string `json:"text"`
}

// Run performs one editor action.
func (e *TextEditor) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in textEditorInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	switch in.Action {
	case "open":
		if in.Path == "" {
			return nil, invalid("path is required")
		}
		var r hostapi.FileReply
		if err := callHost(ctx, host, catalog.Filesystem, hostapi.Request{Op: "read", Path: in.Path}, &r); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"path": in.Path, "text": r.Text, "stats": TextStats(r.Text)})

	case "save":
		if in.Path == "" {
			return nil, invalid("path is required")
		}
		var r hostapi.FileReply
		if err := callHost(ctx, host, catalog.Filesystem, hostapi.Request{Op: "write", Path: in.Path, Text: in.Text}, &r); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"path": in.Path, "written": r.Written})

	case "list":
		var r hostapi.FileReply
		if err := callHost(ctx, host, catalog.Filesystem, hostapi.Request{Op: "list", Path: in.Path}, &r); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"entries": r.Entries})

	case "save_draft":
		if err := callHost(ctx, host, catalog.Storage, hostapi.Request{Op: "set", Key: draftKey, Value: in.Text}, nil); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"saved": true})

	case "draft":
		var r hostapi.StorageReply
		if err := callHost(ctx, host, catalog.Storage, hostapi.Request{Op: "get", Key: draftKey}, &r); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"found": r.Found, "text": r.Value})

	case "", "stats":
		return json.Marshal(TextStats(in.Text))
	}
	return nil, invalid("unknown action %q", in.Action)
}

// Stats summarizes a text.
type Stats struct {
	Characters int `json:"characters"`
	Words      int `json:"words"`
	Lines      int `json:"lines"`
}

// TextStats counts characters, words and lines.
func TextStats(s string) Stats {
	st := Stats{Characters: utf8.RuneCountInString(s), Words: len(strings.Fields(s))}
	if s != "" {
		st.Lines = strings.Count(s, "\n") + 1
		if strings.HasSuffix(s, "\n") {
			st.Lines--
		}
	}
	return st
}
