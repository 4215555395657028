// ABOUTME: Module manifest value object: identity, version, declared capabilities, metadata.
// ABOUTME: Manifests are only constructed through validation and are immutable afterwards.

package manifest

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/2389/toolshell/internal/catalog"
)

// ID is a validated module identifier: lowercase alphanumeric tokens joined by hyphens.
type ID string

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ParseID validates s against the identifier syntax.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", newValidationError("name", "must not be empty", nil)
	}
	if !idPattern.MatchString(s) {
		return "", newValidationError("name", "must be lowercase hyphen-separated tokens, got "+strconv.Quote(s), nil)
	}
	return ID(s), nil
}

// String returns the identifier.
func (id ID) String() string {
	return string(id)
}

// Category groups modules in the marketplace.
type Category string

const (
	CategoryProductivity  Category = "productivity"
	CategoryMedia         Category = "media"
	CategoryDevelopment   Category = "development"
	CategoryUtilities     Category = "utilities"
	CategoryCommunication Category = "communication"
	CategoryFinance       Category = "finance"
	CategoryEducation     Category = "education"
	CategoryOther         Category = "other"
)

var validCategories = []Category{
	CategoryProductivity,
	CategoryMedia,
	CategoryDevelopment,
	CategoryUtilities,
	CategoryCommunication,
	CategoryFinance,
	CategoryEducation,
	CategoryOther,
}

// Status is a module's release maturity.
type Status string

const (
	StatusStable       Status = "stable"
	StatusBeta         Status = "beta"
	StatusAlpha        Status = "alpha"
	StatusExperimental Status = "experimental"
)

var validStatuses = []Status{StatusStable, StatusBeta, StatusAlpha, StatusExperimental}

// Author identifies who publishes a module.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Raw is the manifest document as it appears on disk.
type Raw struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"displayName"`
	Version           string   `json:"version"`
	Description       string   `json:"description"`
	LongDescription   string   `json:"longDescription,omitempty"`
	Author            *Author  `json:"author,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Color             string   `json:"color,omitempty"`
	Category          string   `json:"category,omitempty"`
	Permissions       []string `json:"permissions"`
	Features          []string `json:"features,omitempty"`
	Keywords          []string `json:"keywords,omitempty"`
	Homepage          string   `json:"homepage,omitempty"`
	Repository        string   `json:"repository,omitempty"`
	Documentation     string   `json:"documentation,omitempty"`
	Status            string   `json:"status,omitempty"`
	EstimatedSize     string   `json:"estimatedSize,omitempty"`
	PerformanceImpact string   `json:"performanceImpact,omitempty"`
}

// Manifest is a validated module declaration. The zero value is not usable;
// obtain one from Validate or FromRaw.
type Manifest struct {
	id          ID
	version     *semver.Version
	permissions []catalog.Capability
	category    Category
	status      Status
	raw         Raw
}

// ID returns the module identifier.
func (m *Manifest) ID() ID { return m.id }

// DisplayName returns the user-facing name.
func (m *Manifest) DisplayName() string { return m.raw.DisplayName }

// Version returns the parsed semantic version.
func (m *Manifest) Version() *semver.Version { return m.version }

// Description returns the short description.
func (m *Manifest) Description() string { return m.raw.Description }

// LongDescription returns the Markdown long description, if any.
func (m *Manifest) LongDescription() string { return m.raw.LongDescription }

// Category returns the marketplace category, or "" when unset.
func (m *Manifest) Category() Category { return m.category }

// Status returns the release maturity, or "" when unset.
func (m *Manifest) Status() Status { return m.status }

// Icon returns the icon identifier.
func (m *Manifest) Icon() string { return m.raw.Icon }

// Keywords returns a copy of the search keywords.
func (m *Manifest) Keywords() []string { return slices.Clone(m.raw.Keywords) }

// Permissions returns a copy of the declared capability set.
func (m *Manifest) Permissions() []catalog.Capability {
	return slices.Clone(m.permissions)
}

// Declares reports whether c is in the declared capability set.
func (m *Manifest) Declares(c catalog.Capability) bool {
	return slices.Contains(m.permissions, c)
}

// Raw returns a deep copy of the validated document with canonical permission ids.
func (m *Manifest) Raw() Raw {
	r := m.raw
	r.Permissions = slices.Clone(m.raw.Permissions)
	r.Features = slices.Clone(m.raw.Features)
	r.Keywords = slices.Clone(m.raw.Keywords)
	if m.raw.Author != nil {
		a := *m.raw.Author
		r.Author = &a
	}
	return r
}

// MarshalJSON encodes the manifest in its on-disk format.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Raw())
}

// Matches reports whether query appears in the name, display name, description
// or keywords. Matching is case-insensitive; an empty query matches everything.
func (m *Manifest) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(string(m.id), q) ||
		strings.Contains(strings.ToLower(m.raw.DisplayName), q) ||
		strings.Contains(strings.ToLower(m.raw.Description), q) {
		return true
	}
	for _, k := range m.raw.Keywords {
		if strings.Contains(strings.ToLower(k), q) {
			return true
		}
	}
	return false
}
