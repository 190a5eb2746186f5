package event

import (
	"testing"
	"time"
)

func TestType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      string
	}{
		{"instance started", TypeInstanceStarted, "instance.started"},
		{"instance completed", TypeInstanceCompleted, "instance.completed"},
		{"instance rejected", TypeInstanceRejected, "instance.rejected"},
		{"instance cancelled", TypeInstanceCancelled, "instance.cancelled"},
		{"instance held", TypeInstanceHeld, "instance.held"},
		{"instance resumed", TypeInstanceResumed, "instance.resumed"},
		{"stage entered", TypeStageEntered, "stage.entered"},
		{"stage resolved", TypeStageResolved, "stage.resolved"},
		{"action recorded", TypeActionRecorded, "action.recorded"},
		{"assignment delegated", TypeAssignmentDelegated, "assignment.delegated"},
		{"assignment escalated", TypeAssignmentEscalated, "assignment.escalated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("Type.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"valid - instance started", TypeInstanceStarted, true},
		{"valid - stage resolved", TypeStageResolved, true},
		{"valid - assignment escalated", TypeAssignmentEscalated, true},
		{"invalid - unknown type", Type("unknown.type"), false},
		{"invalid - empty string", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_Terminal(t *testing.T) {
	tests := []struct {
		eventType Type
		want      bool
	}{
		{TypeInstanceCompleted, true},
		{TypeInstanceRejected, true},
		{TypeInstanceCancelled, true},
		{TypeInstanceStarted, false},
		{TypeInstanceHeld, false},
		{TypeStageResolved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := tt.eventType.Terminal(); got != tt.want {
				t.Errorf("Type.Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"outcome": "APPROVED",
		"stage":   2,
	}

	evt := NewEvent(TypeStageResolved, 123, "work_order", "WO-456", payload)

	if evt == nil {
		t.Fatal("NewEvent() returned nil")
	}

	if evt.ID == "" {
		t.Error("Event ID should not be empty")
	}

	if evt.Type != TypeStageResolved {
		t.Errorf("Event Type = %v, want %v", evt.Type, TypeStageResolved)
	}

	if evt.InstanceID != 123 {
		t.Errorf("Event InstanceID = %v, want %v", evt.InstanceID, 123)
	}

	if evt.EntityType != "work_order" || evt.EntityID != "WO-456" {
		t.Errorf("Event entity ref = %v/%v, want work_order/WO-456", evt.EntityType, evt.EntityID)
	}

	if evt.Payload["outcome"] != "APPROVED" {
		t.Errorf("Event Payload[outcome] = %v, want APPROVED", evt.Payload["outcome"])
	}

	if evt.Timestamp.IsZero() {
		t.Error("Event Timestamp should not be zero")
	}

	if evt.CorrelationID == "" {
		t.Error("Event CorrelationID should not be empty")
	}

	if time.Since(evt.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	correlationID := "test-correlation-123"

	evt := NewEventWithCorrelation(TypeActionRecorded, 789, "inspection", "INS-9", nil, correlationID)

	if evt.CorrelationID != correlationID {
		t.Errorf("Event CorrelationID = %v, want %v", evt.CorrelationID, correlationID)
	}

	if evt.Type != TypeActionRecorded {
		t.Errorf("Event Type = %v, want %v", evt.Type, TypeActionRecorded)
	}

	if evt.InstanceID != 789 {
		t.Errorf("Event InstanceID = %v, want %v", evt.InstanceID, 789)
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeStageEntered, 1, "work_order", "WO-1", map[string]interface{}{
		"key1": "value1",
	})

	modified := original.WithPayload("key2", "value2")

	// Original should be unchanged (immutability)
	if _, exists := original.Payload["key2"]; exists {
		t.Error("Original event should not be modified")
	}

	if original.Payload["key1"] != "value1" {
		t.Error("Original event payload should remain intact")
	}

	// Modified should have both keys
	if modified.Payload["key1"] != "value1" {
		t.Error("Modified event should retain original payload")
	}

	if modified.Payload["key2"] != "value2" {
		t.Error("Modified event should have new payload")
	}

	if modified.ID != original.ID {
		t.Error("Modified event should have same ID")
	}

	if modified.CorrelationID != original.CorrelationID {
		t.Error("Modified event should have same CorrelationID")
	}
}

func TestEvent_PayloadGetters(t *testing.T) {
	evt := NewEvent(TypeStageEntered, 1, "work_order", "WO-1", map[string]interface{}{
		"str":     "APPROVED",
		"int64":   int64(100),
		"int":     50,
		"float64": 75.5,
		"flag":    true,
	})

	if got := evt.GetPayloadString("str"); got != "APPROVED" {
		t.Errorf("GetPayloadString(str) = %v, want APPROVED", got)
	}
	if got := evt.GetPayloadString("int"); got != "" {
		t.Errorf("GetPayloadString(int) = %v, want empty", got)
	}
	if got := evt.GetPayloadString("missing"); got != "" {
		t.Errorf("GetPayloadString(missing) = %v, want empty", got)
	}

	if got := evt.GetPayloadInt("int64"); got != 100 {
		t.Errorf("GetPayloadInt(int64) = %v, want 100", got)
	}
	if got := evt.GetPayloadInt("int"); got != 50 {
		t.Errorf("GetPayloadInt(int) = %v, want 50", got)
	}
	if got := evt.GetPayloadInt("float64"); got != 75 {
		t.Errorf("GetPayloadInt(float64) = %v, want 75", got)
	}
	if got := evt.GetPayloadInt("str"); got != 0 {
		t.Errorf("GetPayloadInt(str) = %v, want 0", got)
	}

	if got := evt.GetPayloadBool("flag"); !got {
		t.Error("GetPayloadBool(flag) = false, want true")
	}
	if got := evt.GetPayloadBool("str"); got {
		t.Error("GetPayloadBool(str) = true, want false")
	}
}

func TestEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		evt := NewEvent(TypeStageEntered, int64(i), "work_order", "WO-1", nil)
		if ids[evt.ID] {
			t.Errorf("Duplicate event ID found: %s", evt.ID)
		}
		ids[evt.ID] = true
	}
}

func TestEvent_CorrelationChain(t *testing.T) {
	event1 := NewEvent(TypeInstanceStarted, 1, "work_order", "WO-1", nil)
	correlationID := event1.CorrelationID

	event2 := NewEventWithCorrelation(TypeStageEntered, 1, "work_order", "WO-1", nil, correlationID)
	event3 := NewEventWithCorrelation(TypeStageResolved, 1, "work_order", "WO-1", nil, correlationID)

	if event2.CorrelationID != correlationID {
		t.Error("Event2 should have same correlation ID")
	}

	if event3.CorrelationID != correlationID {
		t.Error("Event3 should have same correlation ID")
	}

	if event1.ID == event2.ID || event1.ID == event3.ID || event2.ID == event3.ID {
		t.Error("Events should have unique IDs even with same correlation ID")
	}
}
