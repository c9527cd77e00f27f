package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"
)

// ProcessConversationArgs triages one conversation after a webhook ping.
type ProcessConversationArgs struct {
	ConvID int64 `json:"conv_id"`
}

func (ProcessConversationArgs) Kind() string { return "process_conversation" }

// BackfillArgs imports the mailbox history page by page.
type BackfillArgs struct {
	MaxPages int `json:"max_pages"`
}

func (BackfillArgs) Kind() string { return "backfill" }

// ReindexArgs rebuilds vector embeddings for recent conversations.
type ReindexArgs struct {
	Limit int `json:"limit"`
}

func (ReindexArgs) Kind() string { return "reindex_vectors" }

type processWorker struct {
	river.WorkerDefaults[ProcessConversationArgs]
	pipeline *Pipeline
}

func (w *processWorker) Timeout(*river.Job[ProcessConversationArgs]) time.Duration {
	return 2 * time.Minute
}

func (w *processWorker) Work(ctx context.Context, job *river.Job[ProcessConversationArgs]) error {
	log.Info().Int64("conv_id", job.Args.ConvID).Int("attempt", job.Attempt).Msg("processing conversation")
	return w.pipeline.ProcessConversation(ctx, job.Args.ConvID)
}

type backfillWorker struct {
	river.WorkerDefaults[BackfillArgs]
	pipeline *Pipeline
}

func (w *backfillWorker) Timeout(*river.Job[BackfillArgs]) time.Duration {
	return 30 * time.Minute
}

func (w *backfillWorker) Work(ctx context.Context, job *river.Job[BackfillArgs]) error {
	n, err := w.pipeline.Backfill(ctx, job.Args.MaxPages)
	log.Info().Int("processed", n).Err(err).Msg("backfill job finished")
	return err
}

type reindexWorker struct {
	river.WorkerDefaults[ReindexArgs]
	pipeline *Pipeline
}

func (w *reindexWorker) Timeout(*river.Job[ReindexArgs]) time.Duration {
	return 15 * time.Minute
}

func (w *reindexWorker) Work(ctx context.Context, job *river.Job[ReindexArgs]) error {
	n, err := w.pipeline.ReindexVectors(ctx, job.Args.Limit)
	log.Info().Int("upserted", n).Err(err).Msg("vector reindex job finished")
	return err
}

// Queue owns the River client and enqueues triage work. Webhook handling
// stays fast because the heavy lifting runs on queue workers with River's
// retry policy behind them.
type Queue struct {
	client *river.Client[pgx.Tx]
}

const (
	maxQueueWorkers = 10
	maxJobRetries   = 8
)

// NewQueue wires the workers over the shared pgx pool.
func NewQueue(pool *pgxpool.Pool, pipeline *Pipeline) (*Queue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &processWorker{pipeline: pipeline})
	river.AddWorker(workers, &backfillWorker{pipeline: pipeline})
	river.AddWorker(workers, &reindexWorker{pipeline: pipeline})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxQueueWorkers},
		},
		Workers:      workers,
		MaxAttempts:  maxJobRetries,
		PeriodicJobs: periodicJobs(pipeline),
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Queue{client: client}, nil
}

// periodicJobs keeps the vector index fresh without a dedicated scheduler
// process. No jobs are scheduled when embeddings/Pinecone are not
// configured; registering them anyway would just fail every run.
func periodicJobs(pipeline *Pipeline) []*river.PeriodicJob {
	if !pipeline.VectorIndexingEnabled() {
		log.Info().Msg("periodic vector reindex disabled: indexing not configured")
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(30*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReindexArgs{Limit: 2000}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		),
	}
}

func (q *Queue) Start(ctx context.Context) error { return q.client.Start(ctx) }
func (q *Queue) Stop(ctx context.Context) error  { return q.client.Stop(ctx) }

// EnqueueConversation schedules triage for one conversation.
func (q *Queue) EnqueueConversation(ctx context.Context, convID int64) error {
	_, err := q.client.Insert(ctx, ProcessConversationArgs{ConvID: convID}, nil)
	if err != nil {
		return fmt.Errorf("enqueue conversation %d: %w", convID, err)
	}
	return nil
}

// EnqueueBackfill schedules a mailbox import.
func (q *Queue) EnqueueBackfill(ctx context.Context, maxPages int) error {
	_, err := q.client.Insert(ctx, BackfillArgs{MaxPages: maxPages}, nil)
	if err != nil {
		return fmt.Errorf("enqueue backfill: %w", err)
	}
	return nil
}

// EnqueueReindex schedules a vector reindex.
func (q *Queue) EnqueueReindex(ctx context.Context, limit int) error {
	_, err := q.client.Insert(ctx, ReindexArgs{Limit: limit}, nil)
	if err != nil {
		return fmt.Errorf("enqueue reindex: %w", err)
	}
	return nil
}
