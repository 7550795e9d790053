package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

var reportFileRe = regexp.MustCompile("jsonlatch-(?P<timestamp>[0-9]{13})-[0-9]{3}.json$")

// Janitor removes report files older than its delay.
type Janitor struct {
	logHandler slog.Handler
	pattern    string
	delaySec   uint
}

func NewJanitor(log slog.Handler, reportDir string, delaySec uint) (Janitor, error) {
	pattern := filepath.Join(reportDir, "jsonlatch-?????????????-???.json")
	if _, err := filepath.Glob(pattern); err != nil {
		return Janitor{}, err
	}
	if delaySec == 0 {
		return Janitor{}, fmt.Errorf("cleanup delay must be positive")
	}

	return Janitor{
		logHandler: log,
		pattern:    pattern,
		delaySec:   delaySec,
	}, nil
}

// Start sweeps the report directory every delay until ctx is done.
func (j Janitor) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(j.delaySec) * time.Second):
				j.Cleanup(time.Now())
			}
		}
	}()
}

// Cleanup removes the reports written more than the delay before now and
// returns how many it removed.
func (j Janitor) Cleanup(now time.Time) int {
	removed := 0
	files, _ := filepath.Glob(j.pattern)
	for _, file := range files {
		matches := reportFileRe.FindStringSubmatch(file)
		if len(matches) == 0 {
			// file globbed but not matched by regex
			continue
		}

		timestamp, _ := strconv.ParseInt(matches[reportFileRe.SubexpIndex("timestamp")], 10, 64)
		boundaryTimestamp := now.UnixMilli() - int64(j.delaySec)*1000
		if timestamp > boundaryTimestamp {
			// file is too fresh
			continue
		}

		if err := os.Remove(file); err != nil {
			logError(j.logHandler, err.Error())
			continue
		}
		removed++
	}
	return removed
}
