package daemon

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/poppobuilder/coordinator/pkg/errs"
	"github.com/poppobuilder/coordinator/pkg/store"
	"github.com/poppobuilder/coordinator/pkg/types"
)

// ProjectRegistry owns the set of registered projects: an in-memory cache
// for the hot read path, mirrored to the shared store so it survives a
// restart. It is the one piece of C6 state that has no dedicated C1-C5
// component of its own.
type ProjectRegistry struct {
	store store.Store

	mu       sync.RWMutex
	projects map[string]types.Project
}

// NewProjectRegistry constructs an empty registry over s.
func NewProjectRegistry(s store.Store) *ProjectRegistry {
	return &ProjectRegistry{store: s, projects: make(map[string]types.Project)}
}

// Load repopulates the in-memory cache from the store; called once at
// startup, mirroring the scheduler's own load-from-disk-at-New idiom.
func (r *ProjectRegistry) Load(ctx context.Context) error {
	ids, err := r.store.SMembers(ctx, projectSetKey)
	if err != nil {
		return fmt.Errorf("daemon: list projects: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		fields, err := r.store.HGetAll(ctx, projectKey(id))
		if err != nil {
			return fmt.Errorf("daemon: load project %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}
		r.projects[id] = projectFromFields(id, fields)
	}
	return nil
}

// Add registers p, persisting it to the store. Re-adding an existing id
// overwrites its record.
func (r *ProjectRegistry) Add(ctx context.Context, p types.Project) error {
	if p.ID == "" {
		return errs.New(errs.InvalidArgs, "project id required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	ops := []store.BatchOp{
		{Kind: store.BatchSAdd, Key: projectSetKey, Value: p.ID},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "name", Value: p.Name},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "path", Value: p.Path},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "priority", Value: strconv.Itoa(p.Priority)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "shareWeight", Value: strconv.FormatFloat(p.ShareWeight, 'f', -1, 64)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "cpu", Value: strconv.FormatFloat(p.Quota.CPU, 'f', -1, 64)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "memory", Value: strconv.FormatInt(p.Quota.Memory, 10)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "maxConcurrent", Value: strconv.Itoa(p.Quota.MaxConcurrent)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "elastic", Value: strconv.FormatBool(p.Quota.Elastic)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "enabled", Value: strconv.FormatBool(p.Enabled)},
		{Kind: store.BatchHSet, Key: projectKey(p.ID), Field: "createdAt", Value: p.CreatedAt.Format(time.RFC3339)},
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return err
	}
	r.mu.Lock()
	r.projects[p.ID] = p
	r.mu.Unlock()
	return nil
}

// Remove unregisters a project. It does not check whether any task still
// references it (the project.remove handler clears the project's ready
// queue before calling this; tasks already processing are not checked).
func (r *ProjectRegistry) Remove(ctx context.Context, id string) error {
	ops := []store.BatchOp{
		{Kind: store.BatchSRem, Key: projectSetKey, Value: id},
		{Kind: store.BatchDel, Key: projectKey(id)},
	}
	if err := r.store.Batch(ctx, ops); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.projects, id)
	r.mu.Unlock()
	return nil
}

// SetEnabled flips a project's enabled flag, persisting the change.
func (r *ProjectRegistry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	p, ok := r.projects[id]
	if !ok {
		r.mu.Unlock()
		return errs.New(errs.InvalidArgs, "unknown project "+id)
	}
	p.Enabled = enabled
	p.LastActivity = time.Now()
	r.projects[id] = p
	r.mu.Unlock()

	return r.store.HSet(ctx, projectKey(id), map[string]string{
		"enabled":      strconv.FormatBool(enabled),
		"lastActivity": p.LastActivity.Format(time.RFC3339),
	})
}

// Touch records activity on a project, persisting lastActivity best-effort.
func (r *ProjectRegistry) Touch(ctx context.Context, id string) {
	r.mu.Lock()
	p, ok := r.projects[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	p.LastActivity = time.Now()
	r.projects[id] = p
	r.mu.Unlock()
	_ = r.store.HSet(ctx, projectKey(id), map[string]string{"lastActivity": p.LastActivity.Format(time.RFC3339)})
}

// Get returns a copy of the project record for id.
func (r *ProjectRegistry) Get(id string) (types.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// List returns a copy of every registered project.
func (r *ProjectRegistry) List() []types.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out
}

func projectFromFields(id string, f map[string]string) types.Project {
	priority, _ := strconv.Atoi(f["priority"])
	shareWeight, _ := strconv.ParseFloat(f["shareWeight"], 64)
	cpu, _ := strconv.ParseFloat(f["cpu"], 64)
	memory, _ := strconv.ParseInt(f["memory"], 10, 64)
	maxConcurrent, _ := strconv.Atoi(f["maxConcurrent"])
	elastic, _ := strconv.ParseBool(f["elastic"])
	enabled, _ := strconv.ParseBool(f["enabled"])

	p := types.Project{
		ID:          id,
		Name:        f["name"],
		Path:        f["path"],
		Priority:    priority,
		ShareWeight: shareWeight,
		Enabled:     enabled,
		Quota: types.Quota{
			CPU:           cpu,
			Memory:        memory,
			MaxConcurrent: maxConcurrent,
			Elastic:       elastic,
		},
	}
	if t, err := time.Parse(time.RFC3339, f["createdAt"]); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, f["lastActivity"]); err == nil {
		p.LastActivity = t
	}
	return p
}
