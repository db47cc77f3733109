package stubserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"flowdeck/internal/apierr"
	"flowdeck/internal/coordinator"
	"flowdeck/internal/db"
	"flowdeck/internal/domain"
	"flowdeck/internal/gateway"
	"flowdeck/internal/migrate"
	"flowdeck/internal/repo"
	"flowdeck/internal/resource"
	"flowdeck/internal/session"
)

type stack struct {
	repo    repo.Repo
	session *session.Manager
	store   *resource.Store
}

// newStack stands up the stub behind a real listener and wires a full client
// against it, the same shape the CLI builds.
func newStack(t *testing.T) *stack {
	t.Helper()
	handler, err := New(Config{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("stub server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}

	mgr := session.New(r)
	identityGW := gateway.New(srv.URL+IdentityBasePath(), mgr, mgr.HandleAuthFailure)
	mgr.UseIdentity(identityGW)
	orchestratorGW := gateway.New(srv.URL+OrchestratorBasePath(), mgr, mgr.HandleAuthFailure)
	store := resource.NewStore(orchestratorGW)
	coordinator.Bind(mgr, store)
	return &stack{repo: r, session: mgr, store: store}
}

func testSpec(name string) domain.WorkflowSpec {
	return domain.WorkflowSpec{
		Name:        name,
		Description: "integration fixture",
		Trigger:     domain.TriggerDefinition{Type: domain.TriggerSchedule, Config: map[string]any{"cron": "0 * * * *"}},
		Actions: []domain.ActionDefinition{
			{Type: domain.ActionLogMessage, Name: "announce", Config: map[string]any{"message": "hello"}},
		},
		IsEnabled: true,
	}
}

func TestFullClientFlow(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	// Register, then log in with the same credentials.
	profile, err := st.session.Register(ctx, "ana", "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if profile.Username != "ana" || profile.ID == "" {
		t.Fatalf("registered profile %+v", profile)
	}
	if st.session.Authenticated() {
		t.Fatal("register must not log in")
	}

	if err := st.session.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	u := st.session.CurrentUser()
	if u == nil || u.Email != "ana@example.com" {
		t.Fatalf("current user %+v", u)
	}
	if st.session.TokenExpiry().IsZero() {
		t.Fatal("issued token should carry an expiry")
	}

	// Empty collection first.
	items, err := st.store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("fresh account has workflows: %+v", items)
	}

	// Create and observe the refreshed collection.
	created, err := st.store.Create(ctx, testSpec("nightly sync"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.UserID != u.ID {
		t.Fatalf("created %+v", created)
	}
	if got := st.store.Workflows(); len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("cache after create: %+v", got)
	}
	if cached, ok := st.store.Get(created.ID); !ok || cached.Name != "nightly sync" {
		t.Fatalf("Get after create: %+v, %v", cached, ok)
	}

	// Update replaces the cached entry with the server's representation.
	renamed := testSpec("nightly sync v2")
	updated, err := st.store.Update(ctx, created.ID, renamed)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "nightly sync v2" || !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("updated %+v", updated)
	}
	if got := st.store.Workflows(); got[0].Name != "nightly sync v2" {
		t.Fatalf("cache after update: %+v", got)
	}

	// Run it and read the history back.
	exec, err := st.store.RunNow(ctx, created.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != domain.ExecutionCompleted {
		t.Fatalf("execution %+v", exec)
	}
	runs, err := st.store.FetchExecutionHistory(ctx, created.ID)
	if err != nil {
		t.Fatalf("executions: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != exec.ID {
		t.Fatalf("history %+v", runs)
	}
	entries, ok := runs[0].Entries()
	if !ok || len(entries) < 2 {
		t.Fatalf("log entries %+v, %v", entries, ok)
	}

	// Delete and verify both server and cache agree.
	if err := st.store.Remove(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := st.store.Workflows(); len(got) != 0 {
		t.Fatalf("cache after delete: %+v", got)
	}
	if _, err := st.store.FetchExecutionHistory(ctx, created.ID); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("history of deleted workflow: %v", err)
	}
}

func TestLoginRejectedByStub(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	if _, err := st.session.Register(ctx, "ana", "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}

	err := st.session.Login(ctx, "ana@example.com", "wrong-password")
	if !apierr.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if apierr.MessageOf(err) != "Invalid email or password" {
		t.Fatalf("message = %q", apierr.MessageOf(err))
	}
}

func TestDuplicateRegistration(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	if _, err := st.session.Register(ctx, "ana", "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	_, err := st.session.Register(ctx, "ana2", "ana@example.com", "secret456")
	if apierr.KindOf(err) != apierr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInvalidTokenInvalidatesSessionAndCaches(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	if _, err := st.session.Register(ctx, "ana", "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if err := st.session.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.store.Create(ctx, testSpec("doomed")); err != nil {
		t.Fatal(err)
	}
	if len(st.store.Workflows()) != 1 {
		t.Fatal("expected one cached workflow")
	}

	// Swap in a token the stub will reject, as if it had been revoked.
	if err := st.repo.SaveToken(ctx, "not-a-valid-jwt"); err != nil {
		t.Fatal(err)
	}
	st.session.Restore(ctx)

	_, err := st.store.List(ctx)
	if !apierr.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if st.session.Authenticated() {
		t.Fatal("authorization failure must end the session")
	}
	if got := st.store.Workflows(); len(got) != 0 {
		t.Fatalf("caches must be cleared with the session, got %+v", got)
	}
	if _, err := st.repo.LoadSession(ctx); err == nil {
		t.Fatal("persisted session should be gone")
	}
}

func TestWorkflowIsolationBetweenUsers(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	if _, err := st.session.Register(ctx, "ana", "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.session.Register(ctx, "ben", "ben@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}

	if err := st.session.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	created, err := st.store.Create(ctx, testSpec("ana's workflow"))
	if err != nil {
		t.Fatal(err)
	}
	if err := st.session.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	if err := st.session.Login(ctx, "ben@example.com", "secret123"); err != nil {
		t.Fatal(err)
	}
	items, err := st.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("ben sees ana's workflows: %+v", items)
	}
	_, err = st.store.Update(ctx, created.ID, testSpec("hijack"))
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("cross-user update: %v", err)
	}
}
