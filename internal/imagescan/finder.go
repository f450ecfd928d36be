package imagescan

import (
	"context"
	"time"

	"sd-launcher/internal/metrics"
)

const (
	StrategyReadDir = "readdir"
	StrategyFind    = "find"
)

// Finder resolves the latest image with the configured strategy and records
// lookup metrics.
type Finder struct {
	Strategy string
	Within   time.Duration // find strategy only
	Scanner  *Scanner
}

func (f *Finder) Latest(ctx context.Context, dir, ext string) (string, error) {
	start := time.Now()
	strategy := f.Strategy
	if strategy == "" {
		strategy = StrategyReadDir
	}

	var name string
	var err error
	if strategy == StrategyFind {
		name, err = LatestByFind(ctx, dir, ext, f.Within)
	} else {
		scanner := f.Scanner
		if scanner == nil {
			scanner = defaultScanner
		}
		name, err = scanner.Latest(dir, ext)
	}

	outcome := "found"
	switch {
	case err != nil:
		outcome = "error"
	case name == "":
		outcome = "empty"
	}
	metrics.RecordImageLookup(strategy, outcome, time.Since(start).Seconds())
	return name, err
}
