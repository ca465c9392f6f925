// Command genmock writes a synthetic WarnMOS LONG thunderstorm-probability
// file: one GRIB2 message per hourly step on the 1 km WarnMOS grid, with a
// handful of storm cells drifting north-east. It feeds local runs of the
// renderer and demos without access to DWD open data.
//
// Usage:
//
//	go run ./cmd/genmock -out data/warnmoslong -run 2025-10-08T06 -steps 24
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/grib2"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
)

const dwdCentre = 78

type cell struct {
	i, j     float64 // grid position at step 0
	vi, vj   float64 // cells per hour
	peak     float64 // percent
	radius   float64 // cells
	lifetime float64 // hours
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/warnmoslong", "output directory")
	runFlag := flag.String("run", "", "run time (UTC) as 2006-01-02T15; default: last 00/06/12/18 run")
	steps := flag.Int("steps", 24, "number of hourly steps")
	cells := flag.Int("cells", 8, "number of storm cells")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	if *steps < 1 || *cells < 0 {
		flag.Usage()
		return fmt.Errorf("steps must be positive and cells non-negative")
	}

	runTime := time.Now().UTC().Truncate(6 * time.Hour)
	if *runFlag != "" {
		t, err := time.Parse("2006-01-02T15", *runFlag)
		if err != nil {
			return fmt.Errorf("parse -run: %w", err)
		}
		runTime = t
	}

	def := projection.WarnMOSGrid()
	storms := spawn(rand.New(rand.NewPCG(*seed, *seed)), *cells, def)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(*out, fmt.Sprintf("warnmoslong_%s.grb2", runTime.Format("2006010215")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	w := grib2.NewWriter(buf)
	for step := 1; step <= *steps; step++ {
		lead := time.Duration(step) * time.Hour
		msg := &grib2.Message{
			Centre:  dwdCentre,
			RefTime: runTime,
			Grid:    gribGrid(def),
			Product: grib2.Product{Category: 19, Number: 2, HasLead: true, Lead: lead},
			Values:  field(def, storms, float64(step)),
		}
		if err := w.Write(msg); err != nil {
			return fmt.Errorf("write step %d: %w", step, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	log.Printf("wrote %s: run %s, %d steps, %d cells", path, runTime.Format(time.RFC3339), *steps, *cells)
	return nil
}

func gribGrid(def projection.GridDefinition) grib2.Grid {
	return grib2.Grid{
		ShapeOfEarth: 5,
		Earth:        def.Projection.Ellipsoid,
		Nx:           def.Nx,
		Ny:           def.Ny,
		La1:          def.FirstLat,
		Lo1:          def.FirstLon,
		LaD:          def.Projection.TrueScaleLat,
		LoV:          def.Projection.CentralMeridian,
		Dx:           def.Dx,
		Dy:           def.Dy,
		ScanMode:     grib2.ScanPlusJ,
	}
}

func spawn(r *rand.Rand, n int, def projection.GridDefinition) []cell {
	out := make([]cell, n)
	for k := range out {
		out[k] = cell{
			i:        r.Float64() * float64(def.Nx),
			j:        r.Float64() * float64(def.Ny),
			vi:       10 + r.Float64()*30,
			vj:       5 + r.Float64()*20,
			peak:     40 + r.Float64()*60,
			radius:   20 + r.Float64()*60,
			lifetime: 6 + r.Float64()*18,
		}
	}
	return out
}

// field evaluates the storm cells at hour h. Each cell grows and decays
// over its lifetime; overlapping cells add up and are capped at 100 %.
func field(def projection.GridDefinition, storms []cell, h float64) []float64 {
	vals := make([]float64, def.Points())
	for _, c := range storms {
		life := math.Sin(math.Pi * math.Min(h/c.lifetime, 1))
		if life <= 0 {
			continue
		}
		ci, cj := c.i+c.vi*h, c.j+c.vj*h
		reach := 3 * c.radius
		i0, i1 := max(0, int(ci-reach)), min(def.Nx-1, int(ci+reach))
		j0, j1 := max(0, int(cj-reach)), min(def.Ny-1, int(cj+reach))
		for j := j0; j <= j1; j++ {
			for i := i0; i <= i1; i++ {
				d2 := (float64(i)-ci)*(float64(i)-ci) + (float64(j)-cj)*(float64(j)-cj)
				vals[j*def.Nx+i] += c.peak * life * math.Exp(-d2/(2*c.radius*c.radius))
			}
		}
	}
	for k, v := range vals {
		vals[k] = math.Min(100, v)
	}
	return vals
}
