package bus

import "testing"

func TestEventTopics_Constants(t *testing.T) {
	if TopicFeedbackDelivered == "" {
		t.Fatal("TopicFeedbackDelivered is empty")
	}
	if TopicFeedbackDeliveryFailed == "" {
		t.Fatal("TopicFeedbackDeliveryFailed is empty")
	}
	if TopicIntakePollFailed == "" {
		t.Fatal("TopicIntakePollFailed is empty")
	}
	if TopicPushConnected == "" {
		t.Fatal("TopicPushConnected is empty")
	}
	if TopicPushDisconnected == "" {
		t.Fatal("TopicPushDisconnected is empty")
	}

	topics := map[string]bool{
		TopicFeedbackDelivered:      true,
		TopicFeedbackDeliveryFailed: true,
		TopicIntakePollFailed:       true,
		TopicPushConnected:          true,
		TopicPushDisconnected:       true,
	}
	if len(topics) != 5 {
		t.Fatalf("expected 5 unique topics, got %d", len(topics))
	}
}

func TestFeedbackDeliveredEvent_Fields(t *testing.T) {
	ev := FeedbackDeliveredEvent{
		TaskID:      "task-456",
		IssueNumber: 42,
		EventID:     "fbk-1",
	}
	if ev.TaskID != "task-456" {
		t.Fatalf("TaskID mismatch: got %s", ev.TaskID)
	}
	if ev.IssueNumber != 42 {
		t.Fatalf("IssueNumber mismatch: got %d", ev.IssueNumber)
	}
	if ev.EventID != "fbk-1" {
		t.Fatalf("EventID mismatch: got %s", ev.EventID)
	}
}

func TestIntakePollFailedEvent_Fields(t *testing.T) {
	ev := IntakePollFailedEvent{IntegrationID: "integ-1", Err: "timeout"}
	if ev.IntegrationID == "" {
		t.Fatal("IntegrationID must not be empty")
	}
	if ev.Err == "" {
		t.Fatal("Err must not be empty")
	}
}

func TestPushConnectionEvent_Fields(t *testing.T) {
	connected := PushConnectionEvent{}
	if connected.Reason != "" {
		t.Fatalf("expected empty reason on connect, got %q", connected.Reason)
	}
	disconnected := PushConnectionEvent{Reason: "read error"}
	if disconnected.Reason == "" {
		t.Fatal("expected non-empty reason on disconnect")
	}
}
