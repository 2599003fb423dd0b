package antispam

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/umputun/tg-guard/app/metrics"
	"github.com/umputun/tg-guard/app/storage"
	"github.com/umputun/tg-guard/lib/moderation"
)

// SessionFactory makes a fresh storage session per task, implemented by
// storage.Store.
type SessionFactory interface {
	NewSession(ctx context.Context) (*storage.Session, error)
}

// ServiceParams configures the worker pool service.
type ServiceParams struct {
	Processor *Processor
	Sessions  SessionFactory
	Dedupe    *moderation.Dedupe
	Metrics   metrics.Collector
	QueueSize int
	Workers   int
}

// Service owns the bounded task queue and the worker pool. Start and Stop
// are idempotent, shutdown drains nothing - workers finish their current
// task and exit on a per-worker sentinel.
type Service struct {
	ServiceParams

	queue   chan item
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

type item struct {
	task     moderation.Task
	sentinel bool
}

// NewService makes a service, filling defaults for unset params.
func NewService(params ServiceParams) *Service {
	if params.QueueSize <= 0 {
		params.QueueSize = 10000
	}
	if params.Workers <= 0 {
		params.Workers = 4
	}
	if params.Metrics == nil {
		params.Metrics = metrics.Noop{}
	}
	if params.Dedupe == nil {
		params.Dedupe = moderation.NewDedupe(5*time.Minute, 10000)
	}
	return &Service{ServiceParams: params, queue: make(chan item, params.QueueSize)}
}

// Start launches the workers. Repeated calls are no-ops.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		log.Printf("[WARN] anti-spam service already started")
		return
	}
	s.started = true
	for i := 0; i < s.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	log.Printf("[INFO] anti-spam service started, %d workers, queue %d", s.Workers, s.QueueSize)
}

// Stop pushes one sentinel per worker and waits for all of them to exit.
// Repeated calls are no-ops.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	for i := 0; i < s.Workers; i++ {
		s.queue <- item{sentinel: true}
	}
	s.wg.Wait()
	log.Printf("[INFO] anti-spam service stopped")
}

// Enqueue submits a task. Non-blocking while the queue has room, on a full
// queue it warns and blocks until a slot frees up, backpressure instead of
// message loss.
func (s *Service) Enqueue(task moderation.Task) {
	select {
	case s.queue <- item{task: task}:
	default:
		log.Printf("[WARN] queue full (%d), blocking on enqueue for %s", s.QueueSize, task)
		s.queue <- item{task: task}
	}
	s.Metrics.SetQueueSize(len(s.queue))
}

// QueueLen returns the number of queued tasks.
func (s *Service) QueueLen() int {
	return len(s.queue)
}

// worker consumes tasks until it gets a sentinel. Processing errors are
// logged and counted, they never kill the worker.
func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for it := range s.queue {
		if it.sentinel {
			log.Printf("[DEBUG] worker %d got stop sentinel", id)
			return
		}
		s.Metrics.SetQueueSize(len(s.queue))
		s.processOne(ctx, id, it.task)
	}
}

func (s *Service) processOne(ctx context.Context, workerID int, task moderation.Task) {
	if !s.Dedupe.AddIfNew(task.ChatID, task.MessageID) {
		log.Printf("[DEBUG] worker %d skipping duplicate %s", workerID, task)
		return
	}
	defer s.Metrics.IncProcessed()

	sess, err := s.Sessions.NewSession(ctx)
	if err != nil {
		s.Metrics.IncErrors()
		log.Printf("[ERROR] worker %d failed to open session for %s: %v", workerID, task, err)
		return
	}

	res, err := s.Processor.Process(ctx, sess, task)
	if err != nil {
		s.Metrics.IncErrors()
		log.Printf("[ERROR] worker %d failed to process %s: %v", workerID, task, err)
		if rbErr := sess.Rollback(); rbErr != nil {
			log.Printf("[WARN] worker %d rollback failed for %s: %v", workerID, task, rbErr)
		}
		return
	}
	log.Printf("[DEBUG] worker %d processed %s, result %s", workerID, task, res)
}
