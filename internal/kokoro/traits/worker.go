package traits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/affinity"
)

// ProfileStore is the slice of persistence the worker needs: load a user's
// weights and message count, and save updated weights.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (affinity.Weights, int64, error)
	SaveWeights(ctx context.Context, userID string, w affinity.Weights) error
}

// Job is one trait-analysis request, queued after a turn's responses have
// already been delivered. The analysis reads the profile as it is when the
// job runs; a turn served between enqueue and execution may have read the
// older weights, which is accepted, the drift is a fraction of a percent
// and self-corrects on the next turn.
type Job struct {
	TurnID    string
	UserID    string
	Message   string
	Prior     []PriorResponse
	Challenge bool
}

// Worker runs trait analysis off the turn path. A single goroutine
// serialises updates so two jobs for the same user never race each other.
type Worker struct {
	intrinsic  *IntrinsicAnalyzer
	engagement *EngagementAnalyzer
	store      ProfileStore
	cfg        Config
	jobTimeout time.Duration

	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWorker returns a stopped Worker with room for queue pending jobs.
func NewWorker(intrinsic *IntrinsicAnalyzer, engagement *EngagementAnalyzer, store ProfileStore, cfg Config, queue int) *Worker {
	if queue <= 0 {
		queue = 64
	}
	return &Worker{
		intrinsic:  intrinsic,
		engagement: engagement,
		store:      store,
		cfg:        cfg,
		jobTimeout: 60 * time.Second,
		jobs:       make(chan Job, queue),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for job := range w.jobs {
			w.process(job)
		}
	}()
}

// Enqueue hands a job to the worker without blocking the turn path. It
// reports false when the queue is full or the worker is shutting down;
// dropping an analysis only delays weight evolution by one message.
func (w *Worker) Enqueue(job Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job:
		return true
	default:
		slog.Warn("traits: queue full, dropping analysis job", "user", job.UserID)
		return false
	}
}

// Close stops accepting jobs, drains the queue, and waits for the worker
// goroutine to finish.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.wg.Wait()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

// process runs one job end to end. Failures are logged and swallowed; a
// missed update is recoverable, a crashed worker is not.
func (w *Worker) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()
	ctx = trace.WithTurnID(ctx, job.TurnID)
	log := trace.Logger(ctx)

	current, totalMessages, err := w.store.Profile(ctx, job.UserID)
	if err != nil {
		log.Error("traits: load profile", "user", job.UserID, "err", err)
		return
	}

	intrinsic, err := w.intrinsic.Analyze(ctx, job.Message)
	if err != nil {
		log.Error("traits: intrinsic analysis failed, skipping update", "err", err)
		return
	}

	var engagement Signals
	hadEngagement := len(job.Prior) > 0
	if hadEngagement {
		engagement, err = w.engagement.Analyze(ctx, job.Message, job.Prior)
		if err != nil {
			// The intrinsic half still carries signal on its own.
			log.Warn("traits: engagement analysis failed, applying intrinsic only", "err", err)
			engagement, hadEngagement = Signals{}, false
		}
	}

	delta := w.cfg.Delta(intrinsic, engagement, hadEngagement, job.Challenge)
	variability := affinity.Variability(totalMessages)
	next := affinity.ApplyDelta(current, delta, variability)

	if next == current {
		return
	}
	if err := w.store.SaveWeights(ctx, job.UserID, next); err != nil {
		log.Error("traits: save weights", "user", job.UserID, "err", err)
		return
	}
	log.Debug("traits: weights updated",
		"user", job.UserID, "weights", next.String(), "variability", variability,
		"intrinsic", intrinsic.Reasoning, "engagement", engagement.Reasoning)
}
