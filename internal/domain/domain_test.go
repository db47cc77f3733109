package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func validSpec() WorkflowSpec {
	return WorkflowSpec{
		Name:    "nightly report",
		Trigger: TriggerDefinition{Type: TriggerSchedule, Config: map[string]any{"cron": "0 2 * * *"}},
		Actions: []ActionDefinition{
			{Type: ActionLogMessage, Name: "announce", Config: map[string]any{"message": "starting"}},
		},
		IsEnabled: true,
	}
}

func TestWorkflowSpecValidate(t *testing.T) {
	if err := validSpec().Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	short := validSpec()
	short.Name = "ab"
	if err := short.Validate(); err == nil {
		t.Fatal("expected error for a two-character name")
	}

	empty := validSpec()
	empty.Actions = nil
	if err := empty.Validate(); err == nil {
		t.Fatal("expected error for a workflow with no actions")
	}

	unnamed := validSpec()
	unnamed.Actions = []ActionDefinition{{Type: ActionLogMessage}}
	if err := unnamed.Validate(); err == nil {
		t.Fatal("expected error for an action without a name")
	}
}

func TestWorkflowSpecValidateUnknownTypesPass(t *testing.T) {
	// Unknown trigger and action types are the server's call, not ours.
	spec := validSpec()
	spec.Trigger = TriggerDefinition{Type: "lunar_phase"}
	spec.Actions = []ActionDefinition{{Type: "send_pigeon", Name: "notify"}}
	if err := spec.Validate(); err != nil {
		t.Fatalf("unknown types should pass client validation: %v", err)
	}
	if spec.Trigger.Known() {
		t.Fatal("lunar_phase should not be a known trigger")
	}
	if spec.Actions[0].Known() {
		t.Fatal("send_pigeon should not be a known action")
	}
}

func TestTriggerAccessors(t *testing.T) {
	sched := TriggerDefinition{Type: TriggerSchedule, Config: map[string]any{"cron": "*/5 * * * *"}}
	expr, ok := sched.Cron()
	if !ok || expr != "*/5 * * * *" {
		t.Fatalf("Cron() = %q, %v", expr, ok)
	}
	hook := TriggerDefinition{Type: TriggerWebhook}
	if _, ok := hook.Cron(); ok {
		t.Fatal("webhook trigger should have no cron expression")
	}
}

func TestActionAccessors(t *testing.T) {
	logAct := ActionDefinition{Type: ActionLogMessage, Name: "a", Config: map[string]any{"message": "hi"}}
	if msg, ok := logAct.Message(); !ok || msg != "hi" {
		t.Fatalf("Message() = %q, %v", msg, ok)
	}
	httpAct := ActionDefinition{Type: ActionHTTPEndpoint, Name: "b", Config: map[string]any{"url": "https://example.com/hook"}}
	if u, ok := httpAct.URL(); !ok || u != "https://example.com/hook" {
		t.Fatalf("URL() = %q, %v", u, ok)
	}
	if _, ok := logAct.URL(); ok {
		t.Fatal("log_message action should have no URL")
	}
}

func TestExecutionLogEntries(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal([]LogEntry{{Timestamp: ts, Message: "done", Status: "INFO"}})
	exec := ExecutionLog{Status: ExecutionCompleted, Logs: raw}
	entries, ok := exec.Entries()
	if !ok || len(entries) != 1 {
		t.Fatalf("Entries() = %v, %v", entries, ok)
	}
	if entries[0].Message != "done" || !entries[0].Timestamp.Equal(ts) {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestExecutionLogEntriesUnrecognized(t *testing.T) {
	if _, ok := (ExecutionLog{}).Entries(); ok {
		t.Fatal("empty payload should not decode")
	}
	odd := ExecutionLog{Logs: json.RawMessage(`{"free":"form"}`)}
	if _, ok := odd.Entries(); ok {
		t.Fatal("non-list payload should not decode")
	}
	// The raw payload survives a round-trip even when unrecognized.
	data, err := json.Marshal(odd)
	if err != nil {
		t.Fatal(err)
	}
	var back ExecutionLog
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if string(back.Logs) != `{"free":"form"}` {
		t.Fatalf("raw logs mangled: %s", back.Logs)
	}
}
