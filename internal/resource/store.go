// Package resource caches the workflow collection and one workflow's
// execution history, bridging CRUD calls to the orchestration service.
//
// Consistency policy: create re-fetches the whole collection
// (refresh-after-write) because the server may apply defaulting the create
// response does not show; update replaces the single matching entry with the
// server's representation (optimistic-replace), which is safe because update
// cannot change collection membership.
package resource

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"flowdeck/internal/apierr"
	"flowdeck/internal/domain"
	"flowdeck/internal/gateway"
	"flowdeck/internal/log"
)

const (
	fallbackList       = "Could not load workflows"
	fallbackCreate     = "Could not create workflow"
	fallbackUpdate     = "Could not update workflow"
	fallbackDelete     = "Could not delete workflow"
	fallbackExecutions = "Could not load execution history"
	fallbackRun        = "Could not run workflow"
)

// Store is the in-memory cache plus its gateway to the orchestrator. The
// mutex guards commits only, never a round-trip: overlapping calls both
// complete and the last commit wins, each commit atomic.
type Store struct {
	mu            sync.Mutex
	workflows     []domain.Workflow
	executions    []domain.ExecutionLog
	executionsFor string
	loading       bool
	lastErr       string

	gw     *gateway.Gateway
	logger *slog.Logger
}

func NewStore(gw *gateway.Gateway) *Store {
	return &Store{
		gw:     gw,
		logger: log.WithComponent("resource"),
	}
}

// Workflows returns a copy of the cached collection in last-received server
// order.
func (s *Store) Workflows() []domain.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Workflow(nil), s.workflows...)
}

// Executions returns a copy of the cached history.
func (s *Store) Executions() []domain.ExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ExecutionLog(nil), s.executions...)
}

// Get looks a workflow up in the local cache by exact id.
func (s *Store) Get(id string) (domain.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.workflows {
		if wf.ID == id {
			return wf, true
		}
	}
	return domain.Workflow{}, false
}

// Loading is advisory state for callers that render progress.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the message recorded by the most recent failed operation.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// List replaces the entire local collection with the server's result. On
// failure the prior collection stays intact and the error is recorded.
func (s *Store) List(ctx context.Context) ([]domain.Workflow, error) {
	s.begin()
	var items []domain.Workflow
	err := s.gw.Do(ctx, http.MethodGet, "workflows", nil, &items, fallbackList)
	if err != nil {
		s.finish(err)
		return nil, err
	}
	s.mu.Lock()
	s.workflows = items
	s.mu.Unlock()
	s.finish(nil)
	return append([]domain.Workflow(nil), items...), nil
}

// Create issues the create call and then re-fetches the full collection
// rather than appending the echoed object. The echo is still returned so
// callers can show the assigned id.
func (s *Store) Create(ctx context.Context, spec domain.WorkflowSpec) (domain.Workflow, error) {
	if err := spec.Validate(); err != nil {
		verr := apierr.Wrap(apierr.KindValidation, "create workflow", err.Error(), err)
		s.recordError(verr.Message)
		return domain.Workflow{}, verr
	}
	s.begin()
	var created domain.Workflow
	err := s.gw.Do(ctx, http.MethodPost, "workflows", spec, &created, fallbackCreate)
	if err != nil {
		s.finish(err)
		return domain.Workflow{}, err
	}
	s.finish(nil)
	if _, err := s.List(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// Update issues the update call and replaces the single matching cached
// entry with the server's returned representation.
func (s *Store) Update(ctx context.Context, id string, spec domain.WorkflowSpec) (domain.Workflow, error) {
	if err := spec.Validate(); err != nil {
		verr := apierr.Wrap(apierr.KindValidation, "update workflow", err.Error(), err)
		s.recordError(verr.Message)
		return domain.Workflow{}, verr
	}
	s.begin()
	var updated domain.Workflow
	err := s.gw.Do(ctx, http.MethodPut, "workflows/"+url.PathEscape(id), spec, &updated, fallbackUpdate)
	if err != nil {
		s.finish(err)
		return domain.Workflow{}, err
	}
	s.mu.Lock()
	for i := range s.workflows {
		if s.workflows[i].ID == id {
			s.workflows[i] = updated
			break
		}
	}
	s.mu.Unlock()
	s.finish(nil)
	return updated, nil
}

// Remove issues the delete call and filters the matching entry out of the
// local collection. No re-fetch.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.begin()
	err := s.gw.Do(ctx, http.MethodDelete, "workflows/"+url.PathEscape(id), nil, nil, fallbackDelete)
	if err != nil {
		s.finish(err)
		return err
	}
	s.mu.Lock()
	kept := s.workflows[:0:0]
	for _, wf := range s.workflows {
		if wf.ID != id {
			kept = append(kept, wf)
		}
	}
	s.workflows = kept
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

// FetchExecutionHistory caches the runs of one workflow at a time. The old
// history is cleared before the request goes out, so an in-flight fetch
// never shows entries belonging to a different workflow; the result commits
// only while this workflow is still the current target.
func (s *Store) FetchExecutionHistory(ctx context.Context, workflowID string) ([]domain.ExecutionLog, error) {
	s.mu.Lock()
	s.executions = nil
	s.executionsFor = workflowID
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()
	var items []domain.ExecutionLog
	err := s.gw.Do(ctx, http.MethodGet, "workflows/"+url.PathEscape(workflowID)+"/executions", nil, &items, fallbackExecutions)
	if err != nil {
		s.finish(err)
		return nil, err
	}
	s.mu.Lock()
	if s.executionsFor == workflowID {
		s.executions = items
	}
	s.mu.Unlock()
	s.finish(nil)
	return append([]domain.ExecutionLog(nil), items...), nil
}

// RunNow asks the orchestrator to execute a workflow immediately. The caches
// are untouched; a following FetchExecutionHistory observes the new run.
func (s *Store) RunNow(ctx context.Context, workflowID string) (domain.ExecutionLog, error) {
	var exec domain.ExecutionLog
	err := s.gw.Do(ctx, http.MethodPost, "workflows/"+url.PathEscape(workflowID)+"/run", nil, &exec, fallbackRun)
	if err != nil {
		s.recordError(apierr.MessageOf(err))
		return domain.ExecutionLog{}, err
	}
	return exec, nil
}

// Clear wipes both caches and the error/loading flags. Invoked through the
// coordinator when the session ends, never by UI-facing code.
func (s *Store) Clear() {
	s.mu.Lock()
	s.workflows = nil
	s.executions = nil
	s.executionsFor = ""
	s.loading = false
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) begin() {
	s.mu.Lock()
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Store) finish(err error) {
	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.lastErr = apierr.MessageOf(err)
	}
	s.mu.Unlock()
}

func (s *Store) recordError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}
