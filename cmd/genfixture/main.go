// Command genfixture writes a synthetic INMET yearly archive for local runs
// and demos. The output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genfixture -year 2019 -out data/2019.zip -hours 744 -latin1
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/couchcryptid/weather-archive-etl/internal/fixture"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	year := flag.Int("year", 2019, "archive year")
	out := flag.String("out", "", "output zip path (default data/<year>.zip)")
	hours := flag.Int("hours", 0, "hours per station; 0 renders the full year")
	seed := flag.Uint64("seed", 1, "random seed")
	latin1 := flag.Bool("latin1", true, "encode station files as ISO-8859-1 like the published archives")
	missing := flag.Int("missing", 0, "every n-th hour is all -9999; 0 disables")
	stations := flag.Int("stations", len(fixture.Stations), "number of stations to include")
	flag.Parse()

	if *stations < 1 || *stations > len(fixture.Stations) {
		return fmt.Errorf("-stations must be between 1 and %d", len(fixture.Stations))
	}
	if *out == "" {
		*out = filepath.Join("data", fmt.Sprintf("%d.zip", *year))
	}

	files, err := fixture.YearFiles(*year, fixture.Stations[:*stations], fixture.Options{
		Hours:   *hours,
		Seed:    *seed,
		Latin1:  *latin1,
		Missing: *missing,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	bw := bufio.NewWriter(f)
	if err := fixture.WriteZip(bw, files); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	for _, fl := range files {
		log.Printf("%s: %d bytes", fl.Name, len(fl.Body))
	}
	log.Printf("wrote %s (%d stations)", *out, len(files))
	return nil
}
