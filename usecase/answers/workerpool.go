package answers

import (
	"context"
	"sync"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/logger"
)

// TaskHandler runs one evaluation task.
type TaskHandler func(ctx context.Context, task domain.EvaluationTask) error

// WorkerPool is the in-process evaluation queue: a bounded buffer drained by
// a fixed number of workers. Enqueue never blocks.
type WorkerPool struct {
	tasks   chan domain.EvaluationTask
	workers int
	handler TaskHandler
	log     logger.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
}

func NewWorkerPool(workers, queueSize int, handler TaskHandler, log logger.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		tasks:   make(chan domain.EvaluationTask, queueSize),
		workers: workers,
		handler: handler,
		log:     log.WithFields(map[string]interface{}{"component": "evaluation-pool"}),
	}
}

// Enqueue adds task to the buffer or fails with ErrQueueFull or ErrQueueClosed.
func (p *WorkerPool) Enqueue(_ context.Context, task domain.EvaluationTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return domain.ErrQueueClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Start launches the workers. Tasks run with a context detached from ctx's
// cancellation so that Stop can drain the buffer.
func (p *WorkerPool) Start(ctx context.Context) {
	p.started.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(runCtx, i)
		}
		p.log.Info("evaluation workers started", map[string]interface{}{
			"workers":  p.workers,
			"capacity": cap(p.tasks),
		})
	})
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		if err := p.handler(ctx, task); err != nil {
			p.log.WithError(err).Debug("evaluation task finished with error", map[string]interface{}{
				"worker":    id,
				"sessionId": task.SessionID,
				"itemId":    task.ItemID,
			})
		}
	}
}

// Stop rejects new tasks and waits until the buffered ones are processed.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
