package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frozen = time.Date(2025, time.October, 8, 7, 30, 15, 0, time.UTC)

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	SetClock(clockwork.NewFakeClockAt(at))
	t.Cleanup(func() { SetClock(nil) })
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func TestTimestepID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"t2m_20251008_0700.png", "20251008_0700", true},
		{"gewitter_20251008_1100.png", "20251008_1100", true},
		{"A_20251008_0700.png", "20251008_0700", true},
		{"wind_gust_003.png", "003", true},
		{"precip_12.png", "12", true},
		{"overview.png", "", false},
	}
	for _, tc := range tests {
		id, ok := TimestepID(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.id, id, tc.name)
	}
}

func TestBuild_Completeness(t *testing.T) {
	freezeClock(t, frozen)
	root := filepath.Join(t.TempDir(), "06")
	touch(t, filepath.Join(root, "B"), "B_20251008_0700.png")
	touch(t, filepath.Join(root, "A"), "A_20251008_0800.png", "A_20251008_0700.png", "notes.txt")
	touch(t, root, "stray.png")

	m, err := Build(root, "06", "20251008")
	require.NoError(t, err)

	want := &Manifest{
		Run:         "06",
		Date:        "20251008",
		GeneratedAt: "2025-10-08T07:30:15Z",
		VarTypes:    []string{"A", "B"},
		Timesteps: map[string][]string{
			"A": {"20251008_0700", "20251008_0800"},
			"B": {"20251008_0700"},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_DefaultDateFromClock(t *testing.T) {
	freezeClock(t, time.Date(2025, time.December, 31, 23, 59, 0, 123456000, time.UTC))
	root := t.TempDir()

	m, err := Build(root, "18", "")
	require.NoError(t, err)
	assert.Equal(t, "20251231", m.Date)
	assert.Equal(t, "2025-12-31T23:59:00.123456Z", m.GeneratedAt)
	assert.Empty(t, m.VarTypes)
	assert.NotNil(t, m.VarTypes)
}

func TestBuild_EmptyCategoryAndSkippedNames(t *testing.T) {
	freezeClock(t, frozen)
	root := t.TempDir()
	touch(t, filepath.Join(root, "frost"), "legend.png")
	touch(t, filepath.Join(root, "empty"))

	m, err := Build(root, "00", "20251008")
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "frost"}, m.VarTypes)
	assert.Equal(t, []string{}, m.Timesteps["frost"])
	assert.Equal(t, []string{}, m.Timesteps["empty"])
}

func TestBuild_FollowsSymlinkedCategories(t *testing.T) {
	freezeClock(t, frozen)
	shared := t.TempDir()
	touch(t, filepath.Join(shared, "wind"), "wind_20251008_1200.png")

	root := t.TempDir()
	touch(t, filepath.Join(root, "gewitter"), "gewitter_20251008_0900.png")
	require.NoError(t, os.Symlink(filepath.Join(shared, "wind"), filepath.Join(root, "wind")))
	require.NoError(t, os.Symlink(filepath.Join(root, "gewitter", "gewitter_20251008_0900.png"), filepath.Join(root, "latest.png")))
	require.NoError(t, os.Symlink(filepath.Join(shared, "absent"), filepath.Join(root, "dangling")))

	m, err := Build(root, "06", "20251008")
	require.NoError(t, err)
	assert.Equal(t, []string{"gewitter", "wind"}, m.VarTypes)
	assert.Equal(t, []string{"20251008_1200"}, m.Timesteps["wind"])
}

func TestBuild_MissingRoot(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "absent"), "06", "")
	assert.Error(t, err)
}

func TestWrite_SiblingOfRoot(t *testing.T) {
	freezeClock(t, frozen)
	parent := t.TempDir()
	root := filepath.Join(parent, "06")
	touch(t, filepath.Join(root, "gewitter"), "gewitter_20251008_0900.png")

	m, err := Build(root, "06", "")
	require.NoError(t, err)
	path, err := Write(root, m)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parent, FileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"run\": \"06\"")

	var got Manifest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []string{"gewitter"}, got.VarTypes)
	assert.Equal(t, []string{"20251008_0900"}, got.Timesteps["gewitter"])
}

func TestWrite_NoASCIIEscaping(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	m := &Manifest{Run: "Düsseldorf<&>", VarTypes: []string{}, Timesteps: map[string][]string{}}

	path, err := Write(root, m)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Düsseldorf<&>")
}
