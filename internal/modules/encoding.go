// ABOUTME: Text transformation modules: Base64 encoder and JSON formatter.
// ABOUTME: Both can copy their output to the clipboard when asked.

package modules

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/2389/toolshell/internal/registry"
)

// Base64Encoder encodes and decodes Base64 text.
type Base64Encoder struct{}

type base64Input struct {
	Action  string `json:"action"` // encode or decode
	Text    string `json:"text"`
	URLSafe bool   `json:"url_safe"`
	Copy    bool   `json:"copy"`
}

// Run encodes or decodes input.Text.
func (b *Base64Encoder) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in base64Input
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	enc := base64.StdEncoding
	if in.URLSafe {
		enc = base64.URLEncoding
	}

	var out string
	switch in.Action {
	case "", "encode":
		out = enc.EncodeToString([]byte(in.Text))
	case "decode":
		data, err := enc.DecodeString(in.Text)
		if err != nil {
			return nil, invalid("not valid base64: %v", err)
		}
		out = string(data)
	default:
		return nil, invalid("unknown action %q", in.Action)
	}

	copied, copyErr := copyToClipboard(ctx, host, in.Copy, out)
	return json.Marshal(map[string]any{
		"output":     out,
		"copied":     copied,
		"copy_error": copyErr,
	})
}

// JSONFormatter validates, indents and minifies JSON.
type JSONFormatter struct{}

type jsonFormatterInput struct {
	Action string `json:"action"` // format, minify or validate
	Text   string `json:"text"`
	Indent int    `json:"indent"`
	Copy   bool   `json:"copy"`
}

// Run transforms input.Text.
func (j *JSONFormatter) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in jsonFormatterInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}

	src := []byte(in.Text)
	if !json.Valid(src) {
		var probe any
		err := json.Unmarshal(src, &probe)
		if in.Action == "validate" {
			return json.Marshal(map[string]any{"valid": false, "error": errString(err)})
		}
		return nil, invalid("not valid JSON: %s", errString(err))
	}

	var buf bytes.Buffer
	switch in.Action {
	case "", "format":
		indent := in.Indent
		if indent <= 0 || indent > 8 {
			indent = 2
		}
		if err := json.Indent(&buf, src, "", string(bytes.Repeat([]byte(" "), indent))); err != nil {
			return nil, invalid("%v", err)
		}
	case "minify":
		if err := json.Compact(&buf, src); err != nil {
			return nil, invalid("%v", err)
		}
	case "validate":
		return json.Marshal(map[string]any{"valid": true})
	default:
		return nil, invalid("unknown action %q", in.Action)
	}

	out := buf.String()
	copied, copyErr := copyToClipboard(ctx, host, in.Copy, out)
	return json.Marshal(map[string]any{
		"valid":      true,
		"output":     out,
		"copied":     copied,
		"copy_error": copyErr,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
