// Command manifest indexes the charts of one run into metadata.json, written
// next to the scanned directory.
//
// Usage:
//
//	go run ./cmd/manifest -root warnmoslong/06 -run 06 [-date 20251008]
//	go run ./cmd/manifest warnmoslong/06 06 [20251008]
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/couchcryptid/storm-hazard-maps/internal/manifest"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	root := flag.String("root", "", "directory holding one sub-directory per category")
	runID := flag.String("run", "", "run identifier, e.g. 06")
	date := flag.String("date", "", "run date YYYYMMDD (default: today, UTC)")
	flag.Parse()

	args := flag.Args()
	if *root == "" && len(args) > 0 {
		*root = args[0]
	}
	if *runID == "" && len(args) > 1 {
		*runID = args[1]
	}
	if *date == "" && len(args) > 2 {
		*date = args[2]
	}
	if *root == "" || *runID == "" {
		flag.Usage()
		return fmt.Errorf("missing required arguments: -root, -run")
	}

	m, err := manifest.Build(*root, *runID, *date)
	if err != nil {
		return err
	}
	path, err := manifest.Write(*root, m)
	if err != nil {
		return err
	}
	log.Printf("metadata written to %s (%d categories)", path, len(m.VarTypes))
	return nil
}
