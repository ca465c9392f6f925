package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/grib2"
	"github.com/couchcryptid/storm-hazard-maps/internal/observability"
	"github.com/couchcryptid/storm-hazard-maps/internal/pipeline"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"github.com/couchcryptid/storm-hazard-maps/internal/render"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockRenderer struct {
	mu      sync.Mutex
	written []string
	failAt  int // step index that fails to render; -1 for none
}

func newMockRenderer() *mockRenderer { return &mockRenderer{failAt: -1} }

func (m *mockRenderer) Render(_ *projection.CoordinateGrid, step forecast.Timestep, _, validLocal time.Time) (render.MapProduct, error) {
	if step.Index == m.failAt {
		return render.MapProduct{}, errors.New("out of ink")
	}
	return render.MapProduct{Name: render.OutputName("gewitter", validLocal), ValidLocal: validLocal}, nil
}

func (m *mockRenderer) Write(dir string, mp render.MapProduct) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, mp.Name)
	return filepath.Join(dir, mp.Name), nil
}

func (m *mockRenderer) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

// --- fixtures ---

var berlin = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		panic(err)
	}
	return loc
}()

func smallGrid() grib2.Grid {
	return grib2.Grid{
		ShapeOfEarth: 5,
		Earth:        projection.WGS84,
		Nx:           3,
		Ny:           3,
		La1:          46.957,
		Lo1:          3.594,
		LaD:          60,
		LoV:          10,
		Dx:           1000,
		Dy:           1000,
		ScanMode:     grib2.ScanPlusJ,
	}
}

func writeRun(t *testing.T, dir, name string, run time.Time, leads ...time.Duration) {
	t.Helper()
	var buf bytes.Buffer
	w := grib2.NewWriter(&buf)
	for _, lead := range leads {
		require.NoError(t, w.Write(&grib2.Message{
			Centre:  78,
			RefTime: run,
			Grid:    smallGrid(),
			Product: grib2.Product{Category: 19, Number: 2, HasLead: true, Lead: lead},
			Values:  make([]float64, 9),
		}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func options(dir string) pipeline.Options {
	return pipeline.Options{
		InputDir:   dir,
		InputExt:   ".grb2",
		OutputDir:  filepath.Join(dir, "out"),
		Variable:   "W_GEW_01",
		Hazard:     "gewitter",
		Location:   berlin,
		Workers:    1,
		GridSource: render.GridFromFile,
	}
}

var run06 = time.Date(2025, time.October, 8, 6, 0, 0, 0, time.UTC)

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "b.grb2", run06.Add(12*time.Hour), time.Hour, 2*time.Hour, 3*time.Hour)
	writeRun(t, dir, "a.grb2", run06, 2*time.Hour, time.Hour)

	r := newMockRenderer()
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(options(dir), r, slog.Default(), metrics)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.Summary{Files: 2, Steps: 5}, sum)

	want := []string{
		"gewitter_20251008_0900.png",
		"gewitter_20251008_1000.png",
		"gewitter_20251008_2100.png",
		"gewitter_20251008_2200.png",
		"gewitter_20251008_2300.png",
	}
	if diff := cmp.Diff(want, r.names()); diff != "" {
		t.Errorf("written charts mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 5, testutil.ToFloat64(metrics.StepsRendered), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.FilesProcessed), 0)
	assert.Positive(t, testutil.ToFloat64(metrics.LastSuccess))
}

func TestPipeline_Run_ParallelWorkers(t *testing.T) {
	dir := t.TempDir()
	leads := make([]time.Duration, 12)
	for k := range leads {
		leads[k] = time.Duration(k) * time.Hour
	}
	writeRun(t, dir, "run.grb2", run06, leads...)

	opts := options(dir)
	opts.Workers = 4
	r := newMockRenderer()
	sum, err := pipeline.New(opts, r, slog.Default(), observability.NewMetricsForTesting()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Steps)

	got := r.names()
	sort.Strings(got)
	assert.Len(t, got, 12)
	assert.Equal(t, "gewitter_20251008_0800.png", got[0])
	assert.Equal(t, "gewitter_20251008_1900.png", got[11])
}

func TestPipeline_Run_MissingData(t *testing.T) {
	r := newMockRenderer()
	metrics := observability.NewMetricsForTesting()
	_, err := pipeline.New(options(t.TempDir()), r, slog.Default(), metrics).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrMissingData)
	assert.Empty(t, r.names())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Failures.WithLabelValues("discover")), 0)
}

func TestPipeline_Run_VariableNotFoundKeepsEarlierCharts(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, time.Hour)

	var buf bytes.Buffer
	w := grib2.NewWriter(&buf)
	require.NoError(t, w.Write(&grib2.Message{
		RefTime: run06,
		Grid:    smallGrid(),
		Product: grib2.Product{Category: 0, Number: 0, HasLead: true, Lead: time.Hour},
		Values:  make([]float64, 9),
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.grb2"), buf.Bytes(), 0o644))

	r := newMockRenderer()
	sum, err := pipeline.New(options(dir), r, slog.Default(), observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, forecast.ErrVariableNotFound)
	assert.Contains(t, err.Error(), "b.grb2")
	assert.Equal(t, pipeline.Summary{Files: 1, Steps: 1}, sum)
	assert.Equal(t, []string{"gewitter_20251008_0900.png"}, r.names())
}

func TestPipeline_Run_CollisionWithinRunIsFatal(t *testing.T) {
	dir := t.TempDir()
	// 00:00 and 01:00 UTC on 26 Oct 2025 are both 02:00 in Berlin.
	writeRun(t, dir, "dst.grb2", time.Date(2025, time.October, 25, 18, 0, 0, 0, time.UTC), 6*time.Hour, 7*time.Hour)

	r := newMockRenderer()
	_, err := pipeline.New(options(dir), r, slog.Default(), observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrOutputCollision)
	assert.Contains(t, err.Error(), "gewitter_20251026_0200.png")
	assert.Empty(t, r.names(), "nothing is written for a colliding run")
}

func TestPipeline_Run_CollisionAcrossFilesLaterWins(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, 3*time.Hour)
	writeRun(t, dir, "b.grb2", run06.Add(time.Hour), 2*time.Hour)

	var logs bytes.Buffer
	metrics := observability.NewMetricsForTesting()
	r := newMockRenderer()
	sum, err := pipeline.New(options(dir), r, slog.New(slog.NewTextHandler(&logs, nil)), metrics).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Steps)
	assert.Equal(t, []string{"gewitter_20251008_1100.png", "gewitter_20251008_1100.png"}, r.names())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Collisions), 0)
}

func TestPipeline_Run_RenderErrorAborts(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, time.Hour, 2*time.Hour, 3*time.Hour)
	writeRun(t, dir, "b.grb2", run06.Add(6*time.Hour), time.Hour)

	r := newMockRenderer()
	r.failAt = 1
	metrics := observability.NewMetricsForTesting()
	sum, err := pipeline.New(options(dir), r, slog.Default(), metrics).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of ink")
	assert.Equal(t, 0, sum.Files)
	assert.Equal(t, []string{"gewitter_20251008_0900.png"}, r.names())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Failures.WithLabelValues("render")), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	r := newMockRenderer()
	_, err := pipeline.New(options(dir), r, slog.Default(), observability.NewMetricsForTesting()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.names())
}

func TestPipeline_Run_FixedGridBuiltOnce(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, time.Hour)
	writeRun(t, dir, "b.grb2", run06.Add(6*time.Hour), time.Hour)

	def, err := smallGrid().Definition()
	require.NoError(t, err)
	opts := options(dir)
	opts.GridSource = render.GridFixed
	opts.Grid = def

	var logs bytes.Buffer
	_, err = pipeline.New(opts, newMockRenderer(), slog.New(slog.NewTextHandler(&logs, nil)), observability.NewMetricsForTesting()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(logs.String(), "coordinate grid built"))
}

func TestPipeline_Run_FixedGridShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, "a.grb2", run06, time.Hour)

	opts := options(dir)
	opts.GridSource = render.GridFixed
	opts.Grid = projection.WarnMOSGrid()

	r := newMockRenderer()
	_, err := pipeline.New(opts, r, slog.Default(), observability.NewMetricsForTesting()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, projection.ErrConfiguration)
	assert.Empty(t, r.names())
}
