package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/metrics"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultQueueSize = 300
	taskTimeout      = 5 * time.Minute
	maxRetryDelay    = 30 * time.Second
)

type recurringTask struct {
	name     string
	interval time.Duration
	newTask  func() TaskInterface
}

type Scheduler struct {
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu        sync.Mutex
	started   bool
	recurring map[string]*recurringTask
}

func NewScheduler(workerCount, queueSize int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Scheduler{
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, queueSize),
		recurring:   make(map[string]*recurringTask),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	for _, r := range s.recurring {
		s.runRecurring(r)
	}
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// ScheduleIfAbsent registers a recurring task under name. It returns false
// and changes nothing when name is already registered.
func (s *Scheduler) ScheduleIfAbsent(name string, interval time.Duration, newTask func() TaskInterface) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recurring[name]; exists {
		slog.Debug("Recurring task already registered", "name", name)
		return false
	}

	r := &recurringTask{name: name, interval: interval, newTask: newTask}
	s.recurring[name] = r

	if s.started {
		s.runRecurring(r)
	}

	slog.Debug("Recurring task registered", "name", name, "interval", interval.String())
	return true
}

func (s *Scheduler) runRecurring(r *recurringTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.EnqueueTask(r.newTask()); err != nil {
					slog.Warn("Failed to enqueue recurring task", "name", r.name, "error", err)
				}
			}
		}
	}()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	select {
	case s.taskQueue <- task:
		metrics.SetQueueDepth(len(s.taskQueue))
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			metrics.SetQueueDepth(len(s.taskQueue))
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := min(time.Duration(1<<uint(task.GetRetryCount()-1))*time.Second, maxRetryDelay)

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "name", task.GetName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-time.After(retryDelay):
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}
