// ABOUTME: Manifest validation: JSON Schema structure check followed by semantic rules.
// ABOUTME: Unknown capabilities, malformed ids and non-semver versions are hard failures.

package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/2389/toolshell/internal/catalog"
)

// ErrValidation matches every manifest validation failure.
var ErrValidation = errors.New("invalid manifest")

// ValidationError describes why a manifest was rejected.
type ValidationError struct {
	Field  string // JSON field name, empty for document-level problems
	Reason string
	Err    error // underlying cause, may be nil
}

func newValidationError(field, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid manifest: %s", e.Reason)
	}
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Reason)
}

// Unwrap exposes both ErrValidation and the underlying cause to errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://toolshell.local/schemas/module-manifest.schema.json"

var documentSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic("manifest: loading schema: " + err.Error())
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		panic("manifest: compiling schema: " + err.Error())
	}
	return s
}

// Validate parses and validates a JSON manifest document.
func Validate(data []byte) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newValidationError("", "malformed JSON", err)
	}
	if err := documentSchema.Validate(doc); err != nil {
		return nil, newValidationError("", "schema violation", err)
	}

	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newValidationError("", "decoding document", err)
	}
	return FromRaw(raw)
}

// FromRaw applies the semantic validation rules to an already-decoded document.
func FromRaw(raw Raw) (*Manifest, error) {
	id, err := ParseID(raw.Name)
	if err != nil {
		return nil, err
	}
	if raw.DisplayName == "" {
		return nil, newValidationError("displayName", "must not be empty", nil)
	}

	version, err := semver.StrictNewVersion(raw.Version)
	if err != nil {
		return nil, newValidationError("version", fmt.Sprintf("%q is not a semantic version", raw.Version), err)
	}

	perms := make([]catalog.Capability, 0, len(raw.Permissions))
	for _, p := range raw.Permissions {
		c, err := catalog.Parse(p)
		if err != nil {
			return nil, newValidationError("permissions", fmt.Sprintf("%q is not a known capability", p), err)
		}
		if slices.Contains(perms, c) {
			return nil, newValidationError("permissions", fmt.Sprintf("%q declared more than once", c), nil)
		}
		perms = append(perms, c)
	}

	category := Category(raw.Category)
	if category != "" && !slices.Contains(validCategories, category) {
		return nil, newValidationError("category", fmt.Sprintf("unknown category %q", raw.Category), nil)
	}

	status := Status(raw.Status)
	if status != "" && !slices.Contains(validStatuses, status) {
		return nil, newValidationError("status", fmt.Sprintf("unknown status %q", raw.Status), nil)
	}

	m := &Manifest{
		id:          id,
		version:     version,
		permissions: perms,
		category:    category,
		status:      status,
	}
	m.raw = raw
	m.raw.Permissions = make([]string, len(perms))
	for i, c := range perms {
		m.raw.Permissions[i] = string(c)
	}
	m.raw.Features = slices.Clone(raw.Features)
	m.raw.Keywords = slices.Clone(raw.Keywords)
	if raw.Author != nil {
		a := *raw.Author
		m.raw.Author = &a
	}
	return m, nil
}

// LoadDir validates every *.json file in dir. A bad file produces an error for that
// file only; the remaining manifests are still returned. Results are ordered by file name.
func LoadDir(fsys fs.FS, dir string) ([]*Manifest, []error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*.json"))
	if err != nil {
		return nil, []error{fmt.Errorf("listing manifests in %s: %w", dir, err)}
	}
	sort.Strings(files)

	var (
		out  []*Manifest
		errs []error
	)
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading %s: %w", name, err))
			continue
		}
		m, err := Validate(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, m)
	}
	return out, errs
}
