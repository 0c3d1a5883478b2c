package scheduler

import (
	"time"

	"github.com/poppobuilder/coordinator/pkg/events"
	"github.com/poppobuilder/coordinator/pkg/metrics"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// Select picks and removes the next ready task under the active policy,
// marks it processing, and returns it. It returns nil, nil when the queue
// is empty, paused, or every project's queue is.
func (s *Scheduler) Select() (*types.Task, error) {
	timer := metrics.NewTimer()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused || len(s.queue) == 0 {
		return nil, nil
	}

	idx := s.pick()
	if idx < 0 {
		return nil, nil
	}

	task := s.queue[idx]
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)

	task.Status = types.TaskStatusProcessing
	task.StartedAt = time.Now()
	s.processing[task.ID] = task

	st := s.statsOf(task.ProjectID)
	st.Queued--
	if st.Queued < 0 {
		st.Queued = 0
	}
	metrics.QueueDepth.WithLabelValues(task.ProjectID).Set(float64(st.Queued))

	s.applyRoundRobinAdvance(task.ProjectID)
	s.applyWeightedFairDebit(task.ProjectID)

	s.markDirty()
	timer.ObserveDuration(metrics.SchedulingLatency)
	metrics.TasksScheduled.Inc()
	metrics.TasksTotal.WithLabelValues(string(types.TaskStatusProcessing)).Inc()
	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:     events.EventTaskStarted,
			Message:  task.ID,
			Metadata: map[string]string{"taskId": task.ID, "projectId": task.ProjectID},
		})
	}
	return task, nil
}

// pick returns the index within s.queue of the task the active policy
// selects, or -1 if the queue holds nothing eligible.
func (s *Scheduler) pick() int {
	switch s.cfg.Policy {
	case PolicyPriority:
		return s.pickPriority(s.queue)
	case PolicyRoundRobin:
		return s.pickRoundRobin()
	case PolicyWeightedFair:
		return s.pickWeightedFair()
	case PolicyDeadlineAware:
		return s.pickDeadlineAware()
	default:
		return s.pickFIFO()
	}
}

func (s *Scheduler) pickFIFO() int {
	best := -1
	for i, t := range s.queue {
		if best < 0 || t.ArrivedAt.Before(s.queue[best].ArrivedAt) {
			best = i
		}
	}
	return best
}

// pickPriority scans candidates (the full queue, or a project-filtered
// subset passed by other policies) for the highest Priority, breaking ties
// by earliest arrival.
func (s *Scheduler) pickPriority(candidates []*types.Task) int {
	best := -1
	for i, t := range candidates {
		if best < 0 {
			best = i
			continue
		}
		b := candidates[best]
		if t.Priority > b.Priority || (t.Priority == b.Priority && t.ArrivedAt.Before(b.ArrivedAt)) {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	if len(candidates) == len(s.queue) {
		return best
	}
	// candidates is a filtered subset; translate back to an index in s.queue.
	return s.indexOf(candidates[best])
}

func (s *Scheduler) indexOf(task *types.Task) int {
	for i, t := range s.queue {
		if t == task {
			return i
		}
	}
	return -1
}

// pickRoundRobin advances from the current cursor through the known
// project order, returning the oldest ready task of the first non-empty
// project it finds. One full lap guarantees every non-empty project is
// examined before the cursor repeats.
func (s *Scheduler) pickRoundRobin() int {
	n := len(s.projectOrder)
	if n == 0 {
		return s.pickFIFO()
	}
	for i := 0; i < n; i++ {
		pid := s.projectOrder[(s.rrCursor+i)%n]
		idx := s.oldestOfProject(pid)
		if idx >= 0 {
			return idx
		}
	}
	return -1
}

// applyRoundRobinAdvance moves the cursor one step past the project that
// was just served, so the next pass starts with a different project.
func (s *Scheduler) applyRoundRobinAdvance(servedProjectID string) {
	if s.cfg.Policy != PolicyRoundRobin || len(s.projectOrder) == 0 {
		return
	}
	for i, pid := range s.projectOrder {
		if pid == servedProjectID {
			s.rrCursor = (i + 1) % len(s.projectOrder)
			return
		}
	}
}

func (s *Scheduler) oldestOfProject(projectID string) int {
	best := -1
	for i, t := range s.queue {
		if t.ProjectID != projectID {
			continue
		}
		if best < 0 || t.ArrivedAt.Before(s.queue[best].ArrivedAt) {
			best = i
		}
	}
	return best
}

// pickWeightedFair selects, among projects with at least one ready task,
// the one with the greatest current token balance, breaking ties by
// earliest task arrival.
func (s *Scheduler) pickWeightedFair() int {
	var bestProject string
	bestBalance := 0.0
	found := false
	for pid := range s.projectStats {
		if s.oldestOfProject(pid) < 0 {
			continue
		}
		bal := s.tokens[pid]
		if !found || bal > bestBalance {
			bestProject, bestBalance, found = pid, bal, true
			continue
		}
		if bal == bestBalance {
			a := s.queue[s.oldestOfProject(pid)]
			b := s.queue[s.oldestOfProject(bestProject)]
			if a.ArrivedAt.Before(b.ArrivedAt) {
				bestProject = pid
			}
		}
	}
	if !found {
		return -1
	}
	return s.oldestOfProject(bestProject)
}

// applyWeightedFairDebit decrements the served project's token balance and,
// if every tracked project's balance has fallen to zero or below, refills
// all of them to their share weight simultaneously.
func (s *Scheduler) applyWeightedFairDebit(servedProjectID string) {
	if s.cfg.Policy != PolicyWeightedFair {
		return
	}
	s.tokens[servedProjectID]--

	allDepleted := true
	for pid := range s.projectStats {
		if s.tokens[pid] > 0 {
			allDepleted = false
			break
		}
	}
	if allDepleted {
		for pid := range s.projectStats {
			s.tokens[pid] = s.weightOf(pid)
		}
	}
}

// pickDeadlineAware selects the task with the nearest deadline among any
// ready tasks due within 24 hours; absent those, it falls back to the
// priority rule.
func (s *Scheduler) pickDeadlineAware() int {
	horizon := time.Now().Add(24 * time.Hour)
	best := -1
	for i, t := range s.queue {
		if t.Deadline == nil || !t.Deadline.Before(horizon) {
			continue
		}
		if best < 0 || t.Deadline.Before(*s.queue[best].Deadline) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	return s.pickPriority(s.queue)
}
