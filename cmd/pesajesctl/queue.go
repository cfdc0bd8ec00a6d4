package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/chaquecarne/pesajes/internal/app"
	"github.com/chaquecarne/pesajes/jobs"
)

// queueClient wraps the asynq client and inspector used by the console.
type queueClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func newQueueClient(cfg *app.Config) (*queueClient, error) {
	if !cfg.CacheEnabled() {
		return nil, errors.New("REDIS_ADDR no configurado: la cola de exportación no está disponible")
	}
	opts := cfg.RedisClientOpt()
	return &queueClient{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (q *queueClient) Close() error {
	var err error
	if q.inspector != nil {
		if closeErr := q.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if q.client != nil {
		if closeErr := q.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// queueStats summarises the current queue state.
type queueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Completed int
	Failed    int
}

func (q *queueClient) stats() (queueStats, error) {
	info, err := q.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return queueStats{}, err
	}
	stats := queueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Completed = info.Completed
		stats.Failed = info.Archived
	}
	return stats, nil
}

func (q *queueClient) enqueueExport(ctx context.Context, payload jobs.ExportPayload) (*asynq.TaskInfo, error) {
	task, err := jobs.NewExportTask(payload)
	if err != nil {
		return nil, err
	}
	return q.client.EnqueueContext(ctx, task)
}

func (st *state) enqueueExport(c *cli.Context, from, to time.Time, encoding string) error {
	q, err := newQueueClient(st.cfg)
	if err != nil {
		return err
	}
	defer q.Close()
	info, err := q.enqueueExport(c.Context, jobs.ExportPayload{From: from, To: to, Encoding: encoding})
	if err != nil {
		return fmt.Errorf("encolar exportación: %w", err)
	}
	fmt.Fprintf(st.out, "exportación encolada: %s\n", info.ID)
	return nil
}

func (st *state) queueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "estado de la cola de exportaciones",
		Action: func(c *cli.Context) error {
			q, err := newQueueClient(st.cfg)
			if err != nil {
				return err
			}
			defer q.Close()
			stats, err := q.stats()
			if err != nil {
				return err
			}
			tw := newTable(st.out)
			fmt.Fprintf(tw, "cola\t%s\npendientes\t%d\nactivas\t%d\nprogramadas\t%d\ncompletadas\t%d\nfallidas\t%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Completed, stats.Failed)
			return tw.Flush()
		},
	}
}
