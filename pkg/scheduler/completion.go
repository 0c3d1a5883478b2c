package scheduler

import (
	"fmt"
	"time"

	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// Complete marks taskID as completed: it leaves the processing map and its
// project's completed counter is incremented.
func (s *Scheduler) Complete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.processing[taskID]
	if !ok {
		return fmt.Errorf("scheduler: task %s is not processing", taskID)
	}
	delete(s.processing, taskID)
	task.Status = types.TaskStatusCompleted
	task.CompletedAt = time.Now()
	s.statsOf(task.ProjectID).Completed++
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusCompleted)).Inc()
	s.markDirty()

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventTaskCompleted,
			Message:  task.ID,
			Metadata: map[string]string{"taskId": task.ID, "projectId": task.ProjectID},
		})
	}
	return nil
}

// Fail records a failed attempt at taskID. If the task's retry count is
// still below MaxRetries it is re-appended to the queue with its arrival
// timestamp unchanged and a task-retry event fires; otherwise it is
// marked failed for good and task-failed fires.
func (s *Scheduler) Fail(taskID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.processing[taskID]
	if !ok {
		return fmt.Errorf("scheduler: task %s is not processing", taskID)
	}
	delete(s.processing, taskID)
	task.Retries++
	if cause != nil {
		task.LastError = cause.Error()
	}

	if task.Retries < s.cfg.MaxRetries {
		task.Status = types.TaskStatusQueued
		s.queue = append(s.queue, task)
		s.statsOf(task.ProjectID).Queued++
		metrics.QueueDepth.WithLabelValues(task.ProjectID).Inc()
		s.armDebounce()
		s.markDirty()
		if s.broker != nil {
			s.broker.Publish(&events.Event{
				Type:     events.EventTaskRetry,
				Message:  task.ID,
				Metadata: map[string]string{"taskId": task.ID, "projectId": task.ProjectID, "retries": fmt.Sprint(task.Retries)},
			})
		}
		return nil
	}

	task.Status = types.TaskStatusFailed
	task.CompletedAt = time.Now()
	s.statsOf(task.ProjectID).Failed++
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusFailed)).Inc()
	metrics.TasksFailed.Inc()
	s.markDirty()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventTaskFailed,
			Message:  task.ID,
			Metadata: map[string]string{"taskId": task.ID, "projectId": task.ProjectID, "error": task.LastError},
		})
	}
	return nil
}

// Cancel marks taskID as cancelled, wherever it currently sits: still
// queued (removed from the ready queue outright) or checked out for
// processing (removed from the processing map; the worker holding it will
// find its subsequent queue.complete-task rejected once ownership no
// longer matches). Returns an error if taskID is neither queued nor
// processing, i.e. it has already reached a terminal state or never
// existed.
func (s *Scheduler) Cancel(taskID string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.processing[taskID]; ok {
		delete(s.processing, taskID)
		s.finishCancelled(task)
		return task, nil
	}

	for i, task := range s.queue {
		if task.ID != taskID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		st := s.statsOf(task.ProjectID)
		st.Queued--
		if st.Queued < 0 {
			st.Queued = 0
		}
		metrics.QueueDepth.WithLabelValues(task.ProjectID).Set(float64(st.Queued))
		s.finishCancelled(task)
		return task, nil
	}

	return nil, fmt.Errorf("scheduler: task %s is not queued or processing", taskID)
}

// finishCancelled applies the terminal cancelled state and bookkeeping
// shared by both branches of Cancel. Caller holds s.mu.
func (s *Scheduler) finishCancelled(task *types.Task) {
	task.Status = types.TaskStatusCancelled
	task.CompletedAt = time.Now()
	s.statsOf(task.ProjectID).Cancelled++
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusCancelled)).Inc()
	metrics.TasksCancelled.Inc()
	s.markDirty()
	s.armDebounce()
}

// Processing returns the tasks currently checked out for processing.
func (s *Scheduler) Processing() []*types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Task, 0, len(s.processing))
	for _, t := range s.processing {
		out = append(out, t)
	}
	return out
}
