// Package stubserver is a local double of the identity and orchestration
// services: enough surface for integration tests and offline development,
// not a product server. Both services share one listener under their real
// base paths.
package stubserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"flowdeck/internal/domain"
)

const (
	identityBasePath     = "/api/baas/v1"
	orchestratorBasePath = "/api/tasks/v1"
)

// Config for the stub handler.
type Config struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// IdentityBasePath returns the path prefix of the stubbed identity service.
func IdentityBasePath() string { return identityBasePath }

// OrchestratorBasePath returns the path prefix of the stubbed orchestration
// service.
func OrchestratorBasePath() string { return orchestratorBasePath }

type errorBody struct {
	Error string `json:"error"`
}

// apiError models the services' {error} envelope.
type apiError struct {
	status int
	Body   errorBody
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Error }

func newAPIError(status int, msg string) huma.StatusError {
	return &apiError{status: status, Body: errorBody{Error: msg}}
}

// New returns an HTTP handler exposing both stubbed services.
func New(cfg Config) (http.Handler, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	st := newState()

	// The real services answer schema failures with a 400 {error} body.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.JWTSecret))
	hcfg := huma.DefaultConfig("Flowdeck Service Stub", "0.1.0")
	api := humachi.New(router, hcfg)

	registerIdentity(huma.NewGroup(api, identityBasePath), st, cfg)
	registerOrchestrator(huma.NewGroup(api, orchestratorBasePath), st)

	return router, nil
}

type registerBody struct {
	Username string `json:"username" minLength:"3" maxLength:"50"`
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResult struct {
	AccessToken string `json:"access_token"`
}

func registerIdentity(api huma.API, st *state, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register a new user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body registerBody `json:"body"`
	}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		profile, err := st.register(input.Body.Username, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, err.Error())
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for an access token",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body loginBody `json:"body"`
	}) (*struct {
		Body loginResult `json:"body"`
	}, error) {
		u, ok := st.authenticate(input.Body.Email, input.Body.Password)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "Invalid email or password")
		}
		token, err := issueToken(cfg.JWTSecret, u.ID, cfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "could not issue token")
		}
		return &struct {
			Body loginResult `json:"body"`
		}{Body: loginResult{AccessToken: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/users/me",
		Summary:     "Current user profile",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		profile, ok := st.profile(userID)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unknown user")
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profile}, nil
	})
}

const msgWorkflowNotFound = "Workflow not found or access denied"

func registerOrchestrator(api huma.API, st *state) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Workflow `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		return &struct {
			Body []domain.Workflow `json:"body"`
		}{Body: st.listWorkflows(userID)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body domain.WorkflowSpec `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		if err := input.Body.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, err.Error())
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: st.createWorkflow(userID, input.Body)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		wf, found := st.getWorkflow(userID, input.WorkflowID)
		if !found {
			return nil, newAPIError(http.StatusNotFound, msgWorkflowNotFound)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPut,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Update workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkflowID string              `path:"workflow_id"`
		Body       domain.WorkflowSpec `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		if err := input.Body.Validate(); err != nil {
			return nil, newAPIError(http.StatusBadRequest, err.Error())
		}
		wf, found := st.updateWorkflow(userID, input.WorkflowID, input.Body)
		if !found {
			return nil, newAPIError(http.StatusNotFound, msgWorkflowNotFound)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workflow",
		Method:        http.MethodDelete,
		Path:          "/workflows/{workflow_id}",
		Summary:       "Delete workflow",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct{}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		if !st.deleteWorkflow(userID, input.WorkflowID) {
			return nil, newAPIError(http.StatusNotFound, msgWorkflowNotFound)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/executions",
		Summary:     "List workflow executions",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body []domain.ExecutionLog `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		runs, found := st.listExecutions(userID, input.WorkflowID)
		if !found {
			return nil, newAPIError(http.StatusNotFound, msgWorkflowNotFound)
		}
		return &struct {
			Body []domain.ExecutionLog `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/run",
		Summary:       "Run workflow immediately",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body domain.ExecutionLog `json:"body"`
	}, error) {
		userID, ok := userIDFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "authentication required")
		}
		exec, found := st.runWorkflow(userID, input.WorkflowID)
		if !found {
			return nil, newAPIError(http.StatusNotFound, msgWorkflowNotFound)
		}
		return &struct {
			Body domain.ExecutionLog `json:"body"`
		}{Body: exec}, nil
	})
}
