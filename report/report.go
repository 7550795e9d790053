package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// Report describes one document that failed validation.
type Report struct {
	Document string   `json:"document"`
	Schema   string   `json:"schema"`
	Engine   string   `json:"engine"`
	Ts       int64    `json:"ts"`
	Errors   []string `json:"errors,omitempty"`
}

type Writer struct {
	logHandler slog.Handler
	dir        string
	seq        uint
}

func NewWriter(logHandler slog.Handler, dir string) *Writer {
	return &Writer{
		logHandler: logHandler,
		dir:        dir,
	}
}

// Store writes the report to its own file and returns the file path. The
// sequence number keeps reports written within the same millisecond apart.
func (w *Writer) Store(report Report) (string, error) {
	if report.Ts == 0 {
		report.Ts = time.Now().UnixMilli()
	}
	fileName := fmt.Sprintf("jsonlatch-%013d-%03d.json", report.Ts, w.seq)
	w.seq = (w.seq + 1) % 1000

	reportBytes, err := json.Marshal(report)
	if err != nil {
		logError(w.logHandler, err.Error())
		return "", err
	}
	reportPath := filepath.Join(w.dir, fileName)
	if err = syncWriteToFile(reportPath, reportBytes); err != nil {
		logError(w.logHandler, err.Error())
		return "", err
	}
	return reportPath, nil
}

func syncWriteToFile(filename string, data []byte) error {
	// reports are read by other tools as soon as they appear
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, 0644)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err1 := f.Close(); err1 != nil && err == nil {
		err = err1
	}
	return err
}

func logError(log slog.Handler, msg string) {
	if log == nil {
		return
	}

	record := slog.NewRecord(time.Now(), slog.LevelError, msg, 0)
	_ = log.Handle(nil, record)
}
