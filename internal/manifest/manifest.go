// Package manifest indexes rendered charts into metadata.json, the file
// front ends read to discover which categories and timesteps exist for a run.
//
// The scanned directory holds one sub-directory per category:
//
//	<root>/gewitter/gewitter_20251008_0700.png
//	<root>/gewitter/gewitter_20251008_0800.png
//
// and the manifest is written next to it, as <dir(root)>/metadata.json.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileName is the manifest's file name.
const FileName = "metadata.json"

// Manifest lists the categories and timesteps of one run.
type Manifest struct {
	Run         string              `json:"run"`
	Date        string              `json:"date"`
	GeneratedAt string              `json:"generated_at"`
	VarTypes    []string            `json:"var_types"`
	Timesteps   map[string][]string `json:"timesteps"`
}

// TimestepID extracts the timestep identifier from a chart file name. It is
// the last two "_"-separated parts when the last one has exactly four
// characters ("t2m_20251008_0700.png" gives "20251008_0700") and the last
// part otherwise. Names with fewer than two parts carry no identifier.
func TimestepID(name string) (string, bool) {
	parts := strings.Split(strings.TrimSuffix(name, ".png"), "_")
	if len(parts) < 2 {
		return "", false
	}
	last := parts[len(parts)-1]
	if len(last) == 4 {
		return parts[len(parts)-2] + "_" + last, true
	}
	return last, true
}

// Build scans root. Every sub-directory is a category; its .png files,
// sorted by name, give the category's timesteps. An empty date defaults to
// today's UTC date.
func Build(root, run, date string) (*Manifest, error) {
	now := clock.Now().UTC()
	if date == "" {
		date = now.Format("20060102")
	}
	m := &Manifest{
		Run:         run,
		Date:        date,
		GeneratedAt: isoUTC(now),
		VarTypes:    []string{},
		Timesteps:   map[string][]string{},
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		// Stat follows symlinked category directories.
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			continue
		}
		steps, err := categorySteps(dir)
		if err != nil {
			return nil, err
		}
		m.VarTypes = append(m.VarTypes, e.Name())
		m.Timesteps[e.Name()] = steps
	}
	return m, nil
}

func categorySteps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	steps := []string{}
	for _, n := range names {
		if id, ok := TimestepID(n); ok {
			steps = append(steps, id)
		}
	}
	return steps, nil
}

// Path returns where the manifest of root is written.
func Path(root string) string {
	return filepath.Join(filepath.Dir(root), FileName)
}

// Write stores m as indented JSON beside root and returns the file's path.
func Write(root string, m *Manifest) (string, error) {
	path := Path(root)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create manifest: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close manifest: %w", err)
	}
	return path, nil
}

// isoUTC formats t like an ISO-8601 UTC timestamp with microseconds, which
// are omitted when zero, and a trailing Z.
func isoUTC(t time.Time) string {
	layout := "2006-01-02T15:04:05"
	if t.Nanosecond()/1000 != 0 {
		layout += ".000000"
	}
	return t.Format(layout) + "Z"
}
