package constant

const (
	OrderEventStreamName             = "order_event"
	OrderEventStreamSubjectAll       = "order_event.*"
	OrderEventStreamSubjectLifecycle = "order_event.lifecycle"

	OrderEventHandlerTimeoutKey = "order_event"
)
