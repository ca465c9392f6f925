package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/observability"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"github.com/couchcryptid/storm-hazard-maps/internal/render"
	"golang.org/x/sync/errgroup"
)

// ErrOutputCollision reports two timesteps of one run that map to the same
// output file.
var ErrOutputCollision = errors.New("output file collision")

// Renderer draws and stores one chart.
type Renderer interface {
	Render(grid *projection.CoordinateGrid, step forecast.Timestep, runTime, validLocal time.Time) (render.MapProduct, error)
	Write(dir string, mp render.MapProduct) (string, error)
}

// Options selects the input, output and grid of a batch.
type Options struct {
	InputDir  string
	InputExt  string
	OutputDir string
	Variable  string
	Variables forecast.Variables
	// Hazard prefixes output file names; it must match the renderer's.
	Hazard   string
	Location *time.Location
	Workers  int

	// GridSource is render.GridFixed or render.GridFromFile.
	GridSource string
	Grid       projection.GridDefinition
}

// Summary counts what a batch produced.
type Summary struct {
	Files int
	Steps int
}

// Pipeline renders every timestep of every forecast file in the input
// directory, in file order.
type Pipeline struct {
	opts     Options
	renderer Renderer
	logger   *slog.Logger
	metrics  *observability.Metrics

	buildGrid func(projection.GridDefinition) (*projection.CoordinateGrid, error)
	gridDef   projection.GridDefinition
	grid      *projection.CoordinateGrid
	// written maps output names to the file that produced them.
	written map[string]string
}

// New creates a Pipeline with the given renderer and observability.
func New(opts Options, r Renderer, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		opts:      opts,
		renderer:  r,
		logger:    logger,
		metrics:   metrics,
		buildGrid: projection.BuildGrid,
		written:   make(map[string]string),
	}
}

// Run processes the input directory. The first error aborts the batch;
// charts already written stay in place. A cancelled context stops the batch
// before the next timestep and is returned as the error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	files, err := forecast.Discover(p.opts.InputDir, p.opts.InputExt)
	if err != nil {
		p.metrics.Failures.WithLabelValues("discover").Inc()
		return sum, err
	}
	p.logger.Info("batch started", "files", len(files), "input_dir", p.opts.InputDir, "workers", p.opts.Workers)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		n, err := p.processFile(ctx, path)
		sum.Steps += n
		if err != nil {
			return sum, err
		}
		sum.Files++
		p.metrics.FilesProcessed.Inc()
	}

	p.metrics.LastSuccess.SetToCurrentTime()
	p.logger.Info("batch finished", "files", sum.Files, "steps", sum.Steps)
	return sum, nil
}

// processFile renders all steps of one forecast file and returns how many
// charts it wrote.
func (p *Pipeline) processFile(ctx context.Context, path string) (int, error) {
	p.logger.Info("loading forecast file", "path", path, "variable", p.opts.Variable)

	run, err := forecast.Open(path, p.opts.Variable, p.opts.Variables)
	if err != nil {
		p.metrics.Failures.WithLabelValues("open").Inc()
		return 0, err
	}

	grid, err := p.gridFor(run)
	if err != nil {
		p.metrics.Failures.WithLabelValues("grid").Inc()
		return 0, err
	}

	if err := p.checkNames(run); err != nil {
		p.metrics.Failures.WithLabelValues("collision").Inc()
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	written := make([]bool, run.Len())
	for step := range run.Steps() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.renderStep(gctx, grid, run, step); err != nil {
				return err
			}
			written[step.Index] = true
			return nil
		})
	}
	err = g.Wait()

	n := 0
	for _, ok := range written {
		if ok {
			n++
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return n, err
	}
	p.logger.Info("forecast file rendered", "path", path, "steps", n, "run_time", run.RunTime)
	return n, nil
}

// gridFor returns the coordinate grid for run, reusing the previous one
// when the definition is unchanged.
func (p *Pipeline) gridFor(run *forecast.Run) (*projection.CoordinateGrid, error) {
	def := p.opts.Grid
	if p.opts.GridSource == render.GridFromFile {
		def = run.Grid
	}
	if def.Points() != run.Grid.Points() {
		return nil, fmt.Errorf("%s: grid %dx%d has %d points but %s carries %d values per step: %w",
			run.Path, def.Nx, def.Ny, def.Points(), run.Variable, run.Grid.Points(), projection.ErrConfiguration)
	}
	if p.grid != nil && p.gridDef == def {
		return p.grid, nil
	}

	start := time.Now()
	grid, err := p.buildGrid(def)
	if err != nil {
		return nil, fmt.Errorf("build grid for %s: %w", run.Path, err)
	}
	p.metrics.GridBuildDuration.Observe(time.Since(start).Seconds())

	minLon, minLat, maxLon, maxLat := grid.Bounds()
	p.logger.Info("coordinate grid built",
		"nx", def.Nx, "ny", def.Ny,
		"lon_min", minLon, "lon_max", maxLon,
		"lat_min", minLat, "lat_max", maxLat,
		"duration", time.Since(start),
	)
	p.grid, p.gridDef = grid, def
	return grid, nil
}

// checkNames rejects runs whose steps share an output name and warns about
// names an earlier file of the batch already wrote.
func (p *Pipeline) checkNames(run *forecast.Run) error {
	seen := make(map[string]forecast.Timestep, run.Len())
	for step := range run.Steps() {
		name := render.OutputName(p.opts.Hazard, step.ValidTime.In(p.opts.Location))
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s steps %d (lead %s) and %d (lead %s) both map to %s",
				ErrOutputCollision, run.Path, prev.Index, prev.Lead, step.Index, step.Lead, name)
		}
		seen[name] = step

		if src, ok := p.written[name]; ok {
			p.logger.Warn("chart from an earlier file will be replaced",
				"name", name, "previous_file", src, "file", run.Path)
			p.metrics.Collisions.Inc()
		}
		p.written[name] = run.Path
	}
	return nil
}

func (p *Pipeline) renderStep(ctx context.Context, grid *projection.CoordinateGrid, run *forecast.Run, step forecast.Timestep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.metrics.StepsInFlight.Inc()
	defer p.metrics.StepsInFlight.Dec()

	start := time.Now()
	local := step.ValidTime.In(p.opts.Location)

	mp, err := p.renderer.Render(grid, step, run.RunTime, local)
	if err != nil {
		p.metrics.Failures.WithLabelValues("render").Inc()
		return fmt.Errorf("render %s step %d: %w", run.Path, step.Index, err)
	}
	path, err := p.renderer.Write(p.opts.OutputDir, mp)
	if err != nil {
		p.metrics.Failures.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s step %d: %w", run.Path, step.Index, err)
	}

	p.metrics.RenderDuration.Observe(time.Since(start).Seconds())
	p.metrics.StepsRendered.Inc()

	lo, hi := step.Field.Range()
	p.logger.Info("chart written",
		"path", path,
		"step", step.Index,
		"lead", step.Lead,
		"valid_local", local.Format(time.DateTime),
		"value_min", lo,
		"value_max", hi,
	)
	return nil
}
