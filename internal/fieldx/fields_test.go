package fieldx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_SynthesizesTitleAndAlt(t *testing.T) {
	orig := now
	now = func() time.Time { return time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { now = orig })

	got := Normalize(map[string]string{"credit": "H. Gonzalez"})

	assert.Equal(t, "Uploaded 2025-03-12T10:30:00Z", got["title"])
	assert.Equal(t, got["title"], got["alt"])
	assert.Equal(t, "H. Gonzalez", got["credit"])
}

func TestNormalize_AltMirrorsExplicitTitle(t *testing.T) {
	got := Normalize(map[string]string{"title": "Flood coverage"})

	assert.Equal(t, "Flood coverage", got["title"])
	assert.Equal(t, "Flood coverage", got["alt"])
}

func TestNormalize_Idempotent(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{name: "empty", fields: map[string]string{}},
		{name: "nil", fields: nil},
		{name: "title only", fields: map[string]string{"title": "x"}},
		{name: "complete", fields: map[string]string{"title": "x", "alt": "y", "gps_lat": "19.43"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			once := Normalize(tc.fields)
			twice := Normalize(once)
			assert.Equal(t, once, twice)
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := map[string]string{"credit": "agency"}
	_ = Normalize(in)
	require.NotContains(t, in, "title")
	require.NotContains(t, in, "alt")
}

func TestMerge(t *testing.T) {
	base := map[string]string{"source": "nexus-app", "credit": "staff"}
	got := Merge(base, map[string]string{"credit": "H. Gonzalez", "empty": ""})

	assert.Equal(t, "nexus-app", got["source"])
	assert.Equal(t, "H. Gonzalez", got["credit"])
	assert.NotContains(t, got, "empty")
	assert.Equal(t, "staff", base["credit"])
}
