package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/chaquecarne/pesajes/internal/jobs"
	"github.com/chaquecarne/pesajes/internal/register"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Exporter writes weigh-ins as CSV. *register.Controller satisfies it.
type Exporter interface {
	Export(ctx context.Context, w io.Writer, f register.ExportFilter) (int, error)
}

// ExportJob runs queued CSV exports into Dir.
type ExportJob struct {
	Exporter Exporter
	Dir      string
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
	newID    func() uuid.UUID
}

// NewExportJob initialises the export handler.
func NewExportJob(exporter Exporter, dir string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExportJob {
	return &ExportJob{
		Exporter: exporter,
		Dir:      dir,
		Logger:   logger,
		Metrics:  metrics,
		clock:    time.Now,
		newID:    uuid.New,
	}
}

// Handle executes one export task.
func (j *ExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Exporter == nil {
		return errors.New("export: handler not configured")
	}
	var payload ExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	var enc export.Encoding
	if payload.Encoding != "" {
		parsed, err := export.ParseEncoding(payload.Encoding)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		enc = parsed
	}

	tracker := j.metrics().Track(TaskWeighInsExport)
	path, rows, err := j.Run(ctx, register.ExportFilter{From: payload.From, To: payload.To, Encoding: enc})
	if err = tracker.End(err); err != nil {
		return err
	}
	if path != "" {
		j.metrics().AddRows(TaskWeighInsExport, rows)
	}
	return nil
}

// Run writes the export and returns the file path and row count. An empty
// selection is logged and leaves no file behind.
func (j *ExportJob) Run(ctx context.Context, f register.ExportFilter) (string, int, error) {
	logger := j.logger()
	if err := os.MkdirAll(j.Dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("export: prepare dir: %w", err)
	}
	tmp, err := os.CreateTemp(j.Dir, ".pesajes-*.csv.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("export: create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := j.Exporter.Export(ctx, tmp, f)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("export: close file: %w", closeErr)
	}
	var ue *register.UserError
	if errors.As(err, &ue) && ue.Kind == register.KindNothingToExport {
		logger.Info("nothing to export", slog.Time("from", f.From), slog.Time("to", f.To))
		return "", 0, nil
	}
	if err != nil {
		logger.Error("export failed", slog.Any("error", err))
		return "", n, err
	}

	path := filepath.Join(j.Dir, export.FileName(j.clock(), j.newID()))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", n, fmt.Errorf("export: publish file: %w", err)
	}
	logger.Info("export written", slog.String("path", path), slog.Int("rows", n))
	return path, n, nil
}

func (j *ExportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWeighInsExport))
	}
	return slog.Default().With(slog.String("job", TaskWeighInsExport))
}

func (j *ExportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
