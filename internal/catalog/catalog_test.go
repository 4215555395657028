package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_ClosedSetOfTwelve(t *testing.T) {
	all := All()
	require.Len(t, all, 12)

	seen := make(map[Capability]bool)
	for _, c := range all {
		assert.False(t, seen[c], "duplicate capability %s", c)
		seen[c] = true
		assert.True(t, Known(c))
	}

	// Mutating the returned slice must not affect later calls.
	all[0] = "tampered"
	assert.Equal(t, Camera, All()[0])
}

func TestDescribe(t *testing.T) {
	info, err := Describe(Camera)
	require.NoError(t, err)
	assert.Equal(t, "Camera", info.Name)
	assert.Equal(t, RiskHigh, info.Risk)

	info, err = Describe(Clipboard)
	require.NoError(t, err)
	assert.Equal(t, RiskLow, info.Risk)
}

func TestDescribe_Unknown(t *testing.T) {
	_, err := Describe(Capability("telepathy"))
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Capability
	}{
		{"camera", Camera},
		{"internet", Internet},
		{"network", Internet},
		{"persistent-storage", Storage},
		{"fullscreen-display", Fullscreen},
		{"printing", Print},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_RejectsOutsideSet(t *testing.T) {
	for _, in := range []string{"", "Camera", "camera ", "root", "all"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrUnknownCapability, "input %q", in)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Capability{Clipboard, Internet, Camera, "bogus"})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.High)
	assert.Equal(t, 1, s.Medium)
	assert.Equal(t, 1, s.Low)
	assert.Equal(t, RiskHigh, s.Highest)

	empty := Summarize(nil)
	assert.Zero(t, empty.Total)
	assert.Equal(t, Risk(""), empty.Highest)
}
