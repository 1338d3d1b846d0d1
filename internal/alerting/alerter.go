// Package alerting provides notification capabilities for the orchestration
// engine.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventExposureUncertain is sent when a compensating cancel failed and
	// the position may be resting one-legged at the broker.
	EventExposureUncertain AlertEvent = "exposure_uncertain"
	// EventPartialSubmission is sent when a second leg was rejected and the
	// first leg was cancelled.
	EventPartialSubmission AlertEvent = "partial_submission"
	// EventOrderFilled is sent when a protective leg fills.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderRejected is sent when an order is rejected.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventOrderCancelled is sent when an order is cancelled externally.
	EventOrderCancelled AlertEvent = "order_cancelled"
	// EventPairSubmitted is sent when both legs of a pair are resting.
	EventPairSubmitted AlertEvent = "pair_submitted"
	// EventFeedUnavailable is sent when a poll cycle cannot read the feed.
	EventFeedUnavailable AlertEvent = "feed_unavailable"
	// EventConnectionLost is sent when the gateway connection is lost.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the gateway connection is restored.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventEngineStarted is sent when the engine starts.
	EventEngineStarted AlertEvent = "engine_started"
	// EventEngineStopped is sent when the engine stops.
	EventEngineStopped AlertEvent = "engine_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventExposureUncertain:
		return SeverityCritical
	case EventPartialSubmission:
		return SeverityHigh
	case EventOrderRejected, EventConnectionLost, EventFeedUnavailable:
		return SeverityWarning
	case EventOrderFilled, EventOrderCancelled, EventPairSubmitted:
		return SeverityInfo
	case EventEngineStarted, EventEngineStopped, EventConnectionRestored:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
