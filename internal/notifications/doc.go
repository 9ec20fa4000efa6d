// Package notifications pushes session outcomes to an ntfy topic.
//
// The service formats a small set of events (failed sessions, sessions held
// for review, optional completions, and a test message) and degrades to a
// no-op when no topic is configured. Follow subscribes to the events hub so
// callers never invoke the notifier directly.
package notifications
