// Package forecast loads one model run from a GRIB2 file and exposes the
// selected variable as an ordered sequence of timesteps.
package forecast

import (
	"cmp"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/grib2"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
)

var (
	// ErrMissingData reports an input directory without forecast files.
	ErrMissingData = errors.New("no forecast files found")
	// ErrVariableNotFound reports a file that does not carry the requested variable.
	ErrVariableNotFound = errors.New("variable not found")
)

// Variables maps short variable names to GRIB2 parameter identities.
type Variables map[string]grib2.Parameter

// DefaultVariables returns the WarnMOS variables known out of the box.
func DefaultVariables() Variables {
	return Variables{
		// Probability of thunderstorm within one hour.
		"W_GEW_01": {Discipline: 0, Category: 19, Number: 2},
	}
}

// Lookup resolves a short name.
func (v Variables) Lookup(name string) (grib2.Parameter, bool) {
	p, ok := v[name]
	return p, ok
}

// Discover returns the files in dir with the given extension, sorted by name.
func Discover(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s/*%s", ErrMissingData, dir, ext)
	}
	sort.Strings(files)
	return files, nil
}

// Field is one 2-D snapshot, row-major with row 0 southernmost.
type Field struct {
	Nx, Ny int
	Values []float64
}

// At returns the value of cell (i, j).
func (f Field) At(i, j int) float64 { return f.Values[j*f.Nx+i] }

// Range returns the smallest and largest finite value. Both are NaN when the
// field holds no finite value.
func (f Field) Range() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range f.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	if lo > hi {
		return math.NaN(), math.NaN()
	}
	return lo, hi
}

// Timestep is one forecast step of a run.
type Timestep struct {
	Index     int
	Lead      time.Duration
	ValidTime time.Time
	Field     Field
}

// Run is one decoded forecast file restricted to a single variable.
type Run struct {
	Path      string
	Variable  string
	Parameter grib2.Parameter
	// RunTime is the issuance time, UTC.
	RunTime time.Time
	// Grid is the grid definition carried by the file, first point south-west.
	Grid projection.GridDefinition

	steps []Timestep
}

// Len returns the number of timesteps.
func (r *Run) Len() int { return len(r.steps) }

// Step returns timestep k.
func (r *Run) Step(k int) Timestep { return r.steps[k] }

// Steps yields the timesteps in ascending valid-time order. The sequence
// can be ranged over any number of times.
func (r *Run) Steps() iter.Seq[Timestep] {
	return func(yield func(Timestep) bool) {
		for _, s := range r.steps {
			if !yield(s) {
				return
			}
		}
	}
}

// IssueHour returns the UTC hour of the run, as used in product titles.
func (r *Run) IssueHour() int { return r.RunTime.Hour() }

// Open decodes path and keeps the messages carrying variable. Every matching
// message becomes one timestep; all of them must share one grid and run time.
func Open(path, variable string, vars Variables) (*Run, error) {
	if vars == nil {
		vars = DefaultVariables()
	}
	param, ok := vars.Lookup(variable)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a known variable (file %s)", ErrVariableNotFound, variable, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open forecast: %w", err)
	}
	defer f.Close()

	msgs, err := grib2.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var matched []*grib2.Message
	for _, m := range msgs {
		if m.Parameter() == param {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s (%s) in %s", ErrVariableNotFound, variable, param, path)
	}
	return newRun(path, variable, param, matched)
}

func newRun(path, variable string, param grib2.Parameter, msgs []*grib2.Message) (*Run, error) {
	first := msgs[0]
	def, err := first.Grid.Definition()
	if err != nil {
		return nil, fmt.Errorf("grid of %s: %w", path, err)
	}

	run := &Run{
		Path:      path,
		Variable:  variable,
		Parameter: param,
		RunTime:   first.RefTime.UTC(),
		Grid:      def,
		steps:     make([]Timestep, 0, len(msgs)),
	}
	for k, m := range msgs {
		if m.Grid != first.Grid {
			return nil, fmt.Errorf("step %d of %s: grid differs from step 0", k, path)
		}
		if !m.RefTime.Equal(first.RefTime) {
			return nil, fmt.Errorf("step %d of %s: run time %s differs from %s", k, path, m.RefTime, first.RefTime)
		}
		if len(m.Values) != def.Points() {
			return nil, fmt.Errorf("step %d of %s: %d values for %dx%d grid", k, path, len(m.Values), def.Nx, def.Ny)
		}
		lead := time.Duration(k) * time.Hour
		if m.Product.HasLead {
			lead = m.Product.Lead
		}
		run.steps = append(run.steps, Timestep{
			Lead:  lead,
			Field: Field{Nx: def.Nx, Ny: def.Ny, Values: m.Values},
		})
	}

	slices.SortStableFunc(run.steps, func(a, b Timestep) int {
		return cmp.Compare(a.Lead, b.Lead)
	})
	for k := range run.steps {
		if k > 0 && run.steps[k].Lead == run.steps[k-1].Lead {
			return nil, fmt.Errorf("%s: two steps with lead %s", path, run.steps[k].Lead)
		}
		run.steps[k].Index = k
		run.steps[k].ValidTime = run.RunTime.Add(run.steps[k].Lead)
	}
	return run, nil
}
