// Package queue implements the durable dispatch queue: a dispatch_jobs table
// for persistence plus an in-process Watermill pub/sub bus that wakes
// delivery workers. The table is authoritative; the bus is only a wake-up
// signal, so lost messages degrade to poller latency, never to lost DMs.
//
// Competing consumers are N worker goroutines ranging over a single
// subscription channel. A worker must still win the claim (conditional
// update) before processing, so duplicate wake-ups for the same job are
// harmless.
package queue

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/replyloop/go-dm-backend/internal/repo"
	"github.com/replyloop/go-dm-backend/internal/services"
)

const dispatchTopic = "dispatch.jobs"

var outcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_outcomes_total",
	Help: "Dispatch attempts by outcome.",
}, []string{"outcome"})

// Dispatcher executes one delivery attempt. Implemented by
// services.DispatchService.
type Dispatcher interface {
	Dispatch(ctx context.Context, recordID string) (services.Outcome, error)
}

// Queue owns the durable job table and the wake-up bus.
type Queue struct {
	db         *gorm.DB
	bus        *gochannel.GoChannel
	dispatcher Dispatcher
	log        zerolog.Logger

	// Workers is the number of concurrent delivery workers.
	Workers int
	// ClaimTTL is how long a claim blocks re-delivery before it is
	// considered abandoned.
	ClaimTTL time.Duration
	// PollInterval is how often the poller scans for due jobs.
	PollInterval time.Duration
	// PollBatch caps jobs republished per poll.
	PollBatch int
}

// New builds a Queue over the given database and dispatcher.
func New(db *gorm.DB, d Dispatcher, log zerolog.Logger) *Queue {
	bus := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, newBusLogger(log))
	return &Queue{
		db:           db,
		bus:          bus,
		dispatcher:   d,
		log:          log,
		Workers:      4,
		ClaimTTL:     2 * time.Minute,
		PollInterval: 15 * time.Second,
		PollBatch:    100,
	}
}

// Enqueue persists a job for the dispatch record and, when it is already
// due, publishes a wake-up. Future-dated jobs are picked up by the poller.
func (q *Queue) Enqueue(ctx context.Context, dispatchRecordID string, runAt time.Time) error {
	job, err := repo.CreateDispatchJob(ctx, q.db, dispatchRecordID, runAt)
	if err != nil {
		return err
	}
	if !runAt.After(time.Now()) {
		return q.publish(job.ID)
	}
	return nil
}

func (q *Queue) publish(jobID string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(jobID))
	return q.bus.Publish(dispatchTopic, msg)
}

// Start launches the workers and the due-job poller. It blocks until the
// subscription is established and returns; shutdown happens when ctx is
// cancelled, Close then releases the bus.
func (q *Queue) Start(ctx context.Context) error {
	msgs, err := q.bus.Subscribe(ctx, dispatchTopic)
	if err != nil {
		return err
	}
	for i := 0; i < q.Workers; i++ {
		go q.worker(ctx, msgs)
	}
	go q.poll(ctx)
	return nil
}

// Close shuts the bus down. Call after ctx cancellation during shutdown.
func (q *Queue) Close() error {
	return q.bus.Close()
}

func (q *Queue) worker(ctx context.Context, msgs <-chan *message.Message) {
	for msg := range msgs {
		q.handle(ctx, string(msg.Payload))
		// The job table is the source of truth; wake-ups are always acked.
		msg.Ack()
	}
}

// handle claims the job, runs the dispatcher, and settles or reschedules the
// job according to the outcome.
func (q *Queue) handle(ctx context.Context, jobID string) {
	now := time.Now().UTC()
	job, err := repo.ClaimDispatchJob(ctx, q.db, jobID, now, q.ClaimTTL)
	if err != nil {
		q.log.Error().Err(err).Str("job_id", jobID).Msg("job claim failed")
		return
	}
	if job == nil {
		// Not due, done, or another worker won.
		return
	}

	outcome, err := q.dispatcher.Dispatch(ctx, job.DispatchRecordID)
	if err != nil {
		q.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("dispatch_id", job.DispatchRecordID).
			Msg("dispatch errored, releasing job")
		outcomeCounter.WithLabelValues("error").Inc()
		retryAt := time.Now().UTC().Add(q.ClaimTTL)
		if rerr := repo.RescheduleDispatchJob(ctx, q.db, job.ID, retryAt); rerr != nil {
			q.log.Error().Err(rerr).Str("job_id", job.ID).Msg("job reschedule failed")
		}
		return
	}

	if outcome.RetryAt != nil {
		outcomeCounter.WithLabelValues("deferred").Inc()
		if err := repo.RescheduleDispatchJob(ctx, q.db, job.ID, *outcome.RetryAt); err != nil {
			q.log.Error().Err(err).Str("job_id", job.ID).Msg("job reschedule failed")
		}
		return
	}

	if outcome.Sent {
		outcomeCounter.WithLabelValues("sent").Inc()
	} else {
		outcomeCounter.WithLabelValues("settled").Inc()
	}
	if err := repo.CompleteDispatchJob(ctx, q.db, job.ID); err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("job completion failed")
	}
}

// poll republishes due jobs. It covers future-dated enqueues, restarts, and
// abandoned claims; duplicate wake-ups are filtered by the claim.
func (q *Queue) poll(ctx context.Context) {
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			jobs, err := repo.ListDueDispatchJobs(ctx, q.db, now, q.ClaimTTL, q.PollBatch)
			if err != nil {
				q.log.Error().Err(err).Msg("due job scan failed")
				continue
			}
			for _, j := range jobs {
				if err := q.publish(j.ID); err != nil {
					q.log.Error().Err(err).Str("job_id", j.ID).Msg("job publish failed")
				}
			}
		}
	}
}
