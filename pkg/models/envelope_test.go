package models

import "testing"

func TestEventScopeMatches(t *testing.T) {
	scope := EventScope{
		ProjectID: "proj-1",
		SessionID: "sess-1",
		ThreadID:  "lace_20250801_abc123",
	}

	if !scope.Matches(EventScope{}) {
		t.Fatal("empty filter should match any scope")
	}
	if !scope.Matches(EventScope{SessionID: "sess-1"}) {
		t.Fatal("matching session filter should pass")
	}
	if scope.Matches(EventScope{SessionID: "sess-2"}) {
		t.Fatal("mismatched session filter should fail")
	}
	if scope.Matches(EventScope{ThreadID: "lace_20250801_zzzzzz"}) {
		t.Fatal("mismatched thread filter should fail")
	}
	if !scope.Matches(EventScope{ProjectID: "proj-1", ThreadID: "lace_20250801_abc123"}) {
		t.Fatal("compound filter with matching fields should pass")
	}
	// The filter's task id is set but the scope has none.
	if scope.Matches(EventScope{TaskID: "task_20250801_aaa111"}) {
		t.Fatal("task filter should not match scope without task id")
	}
}

func TestNewBusEvent(t *testing.T) {
	e := NewBusEvent(KindTaskCreated, EventScope{SessionID: "sess-1"}, "payload")
	if e.ID == "" {
		t.Fatal("NewBusEvent() assigned no id")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("NewBusEvent() assigned no timestamp")
	}
	if e.Kind != KindTaskCreated || e.Scope.SessionID != "sess-1" {
		t.Fatalf("NewBusEvent() = %+v", e)
	}
	if e.Transient {
		t.Fatal("NewBusEvent() should not mark events transient")
	}
}
