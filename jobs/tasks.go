package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWeighInsExport writes a CSV export of weigh-ins to the export directory.
	TaskWeighInsExport = "weighins:export"
)

// ExportPayload selects the rows and encoding of a queued export. Zero dates
// export the most recent rows.
type ExportPayload struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Encoding string    `json:"encoding,omitempty"`
}

// NewExportTask constructs an Asynq task. Exports are never retried.
func NewExportTask(payload ExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWeighInsExport, data, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
