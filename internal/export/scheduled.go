package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedexport/internal/log"
)

// RequestSource produces the request for an unattended export.
type RequestSource func() Request

// WriteFile writes the document to path atomically (temp file + rename).
func WriteFile(path string, pdf []byte) error {
	if path == "" {
		return errors.New("export: output path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".schedexport-*.pdf.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(pdf); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ScheduleToFile registers a cron job that exports src() to path. A run that
// finds another export in flight is skipped.
func ScheduleToFile(c *cron.Cron, expr string, o *Orchestrator, src RequestSource, path string, timeout time.Duration) (cron.EntryID, error) {
	if expr == "" {
		return 0, errors.New("export: empty schedule")
	}
	id, err := c.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := o.Export(ctx, src())
		if err != nil {
			if errors.Is(err, ErrExportInFlight) {
				appLog.Info("scheduled export skipped; another export is running")
			}
			return
		}
		if err := WriteFile(path, res.PDF); err != nil {
			appLog.Error("scheduled export write failed", err, "path", path)
			return
		}
		appLog.Info("scheduled export written", "path", path, "pages", res.Pages)
	})
	if err != nil {
		return 0, fmt.Errorf("export: bad schedule %q: %w", expr, err)
	}
	return id, nil
}
