// Command validate performs end-to-end integrity checks on a render batch:
// the forecast files it read, the charts it wrote and the metadata.json the
// indexer produced. It verifies that every timestep has a chart, that every
// chart decodes at the product's page size, and that the manifest lists
// exactly the charts on disk.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -input-dir data/warnmoslong \
//	  -root warnmoslong \
//	  [-product product.yaml] [-tz Europe/Berlin]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/manifest"
	"github.com/couchcryptid/storm-hazard-maps/internal/render"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	inputDir, ext, variable string
	root, productFile       string
	loc                     *time.Location
}

func main() {
	inputDir := flag.String("input-dir", "", "directory containing the forecast GRIB2 files")
	ext := flag.String("ext", ".grb2", "forecast file extension")
	variable := flag.String("variable", "W_GEW_01", "forecast variable short name")
	root := flag.String("root", "", "run directory holding one sub-directory per category")
	productFile := flag.String("product", "", "optional product YAML used for rendering")
	tz := flag.String("tz", "Europe/Berlin", "time zone of chart names")
	flag.Parse()

	if *inputDir == "" || *root == "" {
		flag.Usage()
		os.Exit(1)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: time zone: %v\n", err)
		os.Exit(1)
	}

	if code := run(options{
		inputDir: *inputDir, ext: *ext, variable: *variable,
		root: *root, productFile: *productFile, loc: loc,
	}); code != 0 {
		os.Exit(code)
	}
}

func run(o options) int {
	fmt.Println("=== Hazard Chart Integrity Validation ===")
	fmt.Println()

	product, err := render.LoadProduct(o.productFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load product: %v\n", err)
		return 1
	}

	// ── Load all data sources ──
	expected, forecastPhase := loadExpected(o, product)
	chartDir := filepath.Join(o.root, product.Hazard)
	charts, err := listCharts(chartDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: list charts: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		forecastPhase,
		validateCharts(chartDir, charts, product),
		validateCoverage(expected, charts),
		validateManifest(o.root, product.Hazard, charts),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Charts: %d expected from forecasts, %d on disk in %s\n", len(expected), len(charts), chartDir)

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// loadExpected opens every forecast file and derives the chart names the
// renderer should have produced.
func loadExpected(o options, product render.Product) (map[string]string, *phase) {
	p := &phase{name: "Forecast files decode with ordered steps"}
	expected := make(map[string]string)

	files, err := forecast.Discover(o.inputDir, o.ext)
	if err != nil {
		p.errorf("%v", err)
		return expected, p
	}
	for _, path := range files {
		run, err := forecast.Open(path, o.variable, product.Variables)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		var prev time.Time
		for step := range run.Steps() {
			if !step.ValidTime.After(prev) {
				p.errorf("%s: step %d valid %s not after %s", filepath.Base(path), step.Index, step.ValidTime, prev)
			}
			prev = step.ValidTime
			expected[render.OutputName(product.Hazard, step.ValidTime.In(o.loc))] = path
		}
	}
	return expected, p
}

func listCharts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ── Validation phases ──

func validateCharts(dir string, charts []string, product render.Product) *phase {
	p := &phase{name: "Charts decode at page size"}
	w, h := product.Layout.PageSize()

	for _, name := range charts {
		if !strings.HasPrefix(name, product.Hazard+"_") {
			p.errorf("%s: name does not start with %s_", name, product.Hazard)
		}
		if _, ok := manifest.TimestepID(name); !ok {
			p.errorf("%s: no timestep in name", name)
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		cfg, err := png.DecodeConfig(f)
		_ = f.Close()
		if err != nil {
			p.errorf("%s: %v", name, err)
			continue
		}
		if cfg.Width != w || cfg.Height != h {
			p.errorf("%s: %dx%d, want %dx%d", name, cfg.Width, cfg.Height, w, h)
		}
	}
	return p
}

func validateCoverage(expected map[string]string, charts []string) *phase {
	p := &phase{name: "Every forecast step has a chart"}
	for name, src := range expected {
		if !slices.Contains(charts, name) {
			p.errorf("%s missing (from %s)", name, filepath.Base(src))
		}
	}
	slices.Sort(p.errors)
	return p
}

func validateManifest(root, category string, charts []string) *phase {
	p := &phase{name: "Manifest matches charts on disk"}
	data, err := os.ReadFile(manifest.Path(root))
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		p.errorf("%s: %v", manifest.Path(root), err)
		return p
	}
	if !slices.Contains(m.VarTypes, category) {
		p.errorf("var_types %v lacks %s", m.VarTypes, category)
	}

	var want []string
	for _, name := range charts {
		if id, ok := manifest.TimestepID(name); ok {
			want = append(want, id)
		}
	}
	got := m.Timesteps[category]
	if !slices.Equal(want, got) {
		p.errorf("timesteps[%s] = %v, charts give %v", category, got, want)
	}
	return p
}
