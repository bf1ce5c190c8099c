// Package scheduler runs the async worker pool: it polls the store-backed
// queue, hands claimed tasks to the execution engine, and settles queue
// entries according to the outcome.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lewisai/lewis/internal/config"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/orchestrator"
	"github.com/lewisai/lewis/internal/store"
)

// Scheduler polls the queue and dispatches tasks to workers.
type Scheduler struct {
	store  *store.Store
	engine *orchestrator.Engine
	cfg    config.SchedulerConfig

	mu            sync.Mutex
	activeWorkers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(s *store.Store, engine *orchestrator.Engine, cfg config.SchedulerConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  s,
		engine: engine,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the polling loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.pollLoop()
	log.Println("Scheduler started")
}

// Stop cancels in-flight workers and waits for them to checkpoint out.
// Suspended tasks stay claimable for the next run.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	log.Println("Scheduler stopped")
}

func (sch *Scheduler) pollLoop() {
	defer sch.wg.Done()

	interval := time.Duration(sch.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.pollAndDispatch()
		}
	}
}

// pollAndDispatch claims one visible queue entry if a worker slot is free.
func (sch *Scheduler) pollAndDispatch() {
	sch.mu.Lock()
	if sch.activeWorkers >= sch.cfg.GlobalMax {
		sch.mu.Unlock()
		return
	}
	sch.mu.Unlock()

	workerID := "worker-" + uuid.New().String()[:8]
	entry, err := sch.store.ClaimNext(workerID, time.Duration(sch.cfg.VisibilityTimeoutSec)*time.Second, sch.cfg.MaxDeliveries)
	if err != nil {
		log.Printf("Error claiming queue entry: %v", err)
		return
	}
	if entry == nil {
		return
	}

	log.Printf("Dispatched task %s to worker %s (delivery %d)", entry.TaskID, workerID, entry.Deliveries)

	sch.mu.Lock()
	sch.activeWorkers++
	sch.mu.Unlock()

	sch.wg.Add(1)
	go sch.runWorker(entry, workerID)
}

// runWorker drives one claimed task through the engine and settles its
// queue entry: terminal tasks are acked, suspended ones released for
// redelivery, lease contention backs off until the claim expires.
func (sch *Scheduler) runWorker(entry *models.QueueEntry, workerID string) {
	defer sch.wg.Done()
	defer func() {
		sch.mu.Lock()
		sch.activeWorkers--
		sch.mu.Unlock()
	}()

	err := sch.engine.Run(sch.ctx, entry.TaskID)
	if errors.Is(err, store.ErrTaskBusy) {
		// Another driver holds the task; let the visibility timeout expire.
		log.Printf("Worker %s found task %s busy", workerID, entry.TaskID)
		return
	}
	if err != nil {
		log.Printf("Worker %s failed on task %s: %v", workerID, entry.TaskID, err)
		if rerr := sch.store.ReleaseEntry(entry.TaskID); rerr != nil {
			log.Printf("Error releasing queue entry %s: %v", entry.TaskID, rerr)
		}
		return
	}

	task, err := sch.store.GetTask(entry.TaskID)
	if err != nil || task == nil {
		log.Printf("Worker %s could not reload task %s: %v", workerID, entry.TaskID, err)
		return
	}

	if task.Status.Terminal() {
		if err := sch.store.Ack(entry.TaskID); err != nil {
			log.Printf("Error acking task %s: %v", entry.TaskID, err)
		}
		log.Printf("Worker %s finished task %s (%s)", workerID, entry.TaskID, task.Status)
		return
	}

	// Suspended: make the entry visible again for the next worker.
	if err := sch.store.ReleaseEntry(entry.TaskID); err != nil {
		log.Printf("Error releasing queue entry %s: %v", entry.TaskID, err)
	}
	log.Printf("Worker %s released suspended task %s", workerID, entry.TaskID)
}

// GetStats returns current scheduler statistics plus queue depth.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	active := sch.activeWorkers
	sch.mu.Unlock()

	depth, err := sch.store.QueueDepth()
	if err != nil {
		log.Printf("Error reading queue depth: %v", err)
	}
	dead, err := sch.store.DeadLetters()
	if err != nil {
		log.Printf("Error reading dead letters: %v", err)
	}

	return map[string]interface{}{
		"active_workers": active,
		"global_max":     sch.cfg.GlobalMax,
		"queue_depth":    depth,
		"dead_letters":   len(dead),
	}
}
