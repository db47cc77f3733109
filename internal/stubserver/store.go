package stubserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowdeck/internal/domain"
)

type stubUser struct {
	ID       string
	Username string
	Email    string
	Password string // plain text; this is a test double, not a product server
}

// state is the in-memory backing store for both stubbed services.
type state struct {
	mu         sync.Mutex
	usersByID  map[string]stubUser
	idByEmail  map[string]string
	workflows  map[string]map[string]domain.Workflow // userID -> workflowID -> workflow
	executions map[string][]domain.ExecutionLog      // workflowID -> runs, newest last
	now        func() time.Time
}

func newState() *state {
	return &state{
		usersByID:  map[string]stubUser{},
		idByEmail:  map[string]string{},
		workflows:  map[string]map[string]domain.Workflow{},
		executions: map[string][]domain.ExecutionLog{},
		now:        time.Now,
	}
}

func (s *state) register(username, email, password string) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.idByEmail[email]; exists {
		return domain.UserProfile{}, fmt.Errorf("email already registered")
	}
	u := stubUser{ID: uuid.NewString(), Username: username, Email: email, Password: password}
	s.usersByID[u.ID] = u
	s.idByEmail[email] = u.ID
	return domain.UserProfile{ID: u.ID, Username: u.Username, Email: u.Email}, nil
}

func (s *state) authenticate(email, password string) (stubUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idByEmail[email]
	if !ok {
		return stubUser{}, false
	}
	u := s.usersByID[id]
	if u.Password != password {
		return stubUser{}, false
	}
	return u, true
}

func (s *state) profile(userID string) (domain.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByID[userID]
	if !ok {
		return domain.UserProfile{}, false
	}
	return domain.UserProfile{ID: u.ID, Username: u.Username, Email: u.Email}, true
}

func (s *state) listWorkflows(userID string) []domain.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Workflow
	for _, wf := range s.workflows[userID] {
		out = append(out, wf)
	}
	// map order is random; present oldest first like the real service
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if out == nil {
		out = []domain.Workflow{}
	}
	return out
}

func (s *state) createWorkflow(userID string, spec domain.WorkflowSpec) domain.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	wf := domain.Workflow{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        spec.Name,
		Description: spec.Description,
		Trigger:     spec.Trigger,
		Actions:     spec.Actions,
		IsEnabled:   spec.IsEnabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.workflows[userID] == nil {
		s.workflows[userID] = map[string]domain.Workflow{}
	}
	s.workflows[userID][wf.ID] = wf
	return wf
}

func (s *state) getWorkflow(userID, id string) (domain.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[userID][id]
	return wf, ok
}

func (s *state) updateWorkflow(userID, id string, spec domain.WorkflowSpec) (domain.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[userID][id]
	if !ok {
		return domain.Workflow{}, false
	}
	wf.Name = spec.Name
	wf.Description = spec.Description
	wf.Trigger = spec.Trigger
	wf.Actions = spec.Actions
	wf.IsEnabled = spec.IsEnabled
	wf.UpdatedAt = s.now().UTC()
	s.workflows[userID][id] = wf
	return wf, true
}

func (s *state) deleteWorkflow(userID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[userID][id]; !ok {
		return false
	}
	delete(s.workflows[userID], id)
	delete(s.executions, id)
	return true
}

func (s *state) listExecutions(userID, workflowID string) ([]domain.ExecutionLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[userID][workflowID]; !ok {
		return nil, false
	}
	runs := append([]domain.ExecutionLog(nil), s.executions[workflowID]...)
	if runs == nil {
		runs = []domain.ExecutionLog{}
	}
	return runs, true
}

func (s *state) runWorkflow(userID, workflowID string) (domain.ExecutionLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[userID][workflowID]
	if !ok {
		return domain.ExecutionLog{}, false
	}
	now := s.now().UTC()
	done := now.Add(time.Second)
	entries := []domain.LogEntry{
		{Timestamp: now, Message: fmt.Sprintf("Starting execution for Workflow '%s'", wf.Name), Status: "INFO"},
	}
	for _, a := range wf.Actions {
		entries = append(entries, domain.LogEntry{Timestamp: now, Message: fmt.Sprintf("Executed action '%s'", a.Name), Status: "ACTION_OUTPUT"})
	}
	logs, _ := json.Marshal(entries)
	exec := domain.ExecutionLog{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      domain.ExecutionCompleted,
		TriggeredAt: now,
		CompletedAt: &done,
		Logs:        logs,
	}
	s.executions[workflowID] = append(s.executions[workflowID], exec)
	return exec, true
}
