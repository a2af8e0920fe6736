package bus

// Feedback worker event topics.
const (
	TopicFeedbackDelivered      = "feedback.delivered"
	TopicFeedbackDeliveryFailed = "feedback.delivery_failed"
)

// Intake worker event topics.
const (
	TopicIntakePollFailed = "intake.poll_failed"
)

// Push client connection event topics.
const (
	TopicPushConnected    = "push.connected"
	TopicPushDisconnected = "push.disconnected"
)

// FeedbackDeliveredEvent is published when a status comment is posted.
type FeedbackDeliveredEvent struct {
	TaskID      string // Task ID the status change belongs to
	IssueNumber int    // Issue number the comment was posted on
	EventID     string // Feedback event ID marked delivered
}

// FeedbackDeliveryFailedEvent is published when posting a status comment fails.
type FeedbackDeliveryFailedEvent struct {
	TaskID  string // Task ID the status change belongs to
	EventID string // Feedback event ID that failed
	Err     string // Failure reason
}

// IntakePollFailedEvent is published when an integration poll fails.
type IntakePollFailedEvent struct {
	IntegrationID string // Integration that failed to poll
	Err           string // Failure reason
}

// PushConnectionEvent is published when the push client connects or disconnects.
type PushConnectionEvent struct {
	Reason string // Disconnect reason, empty on connect
}
