package core

// Logger is the logging interface used across the app.
// args may contain errors, maps of extra data and the user.User performing the action.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// EventPublisher broadcasts domain events (attendance, devices) to interested listeners.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) {}
