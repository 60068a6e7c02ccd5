// Package notify defines the notification boundary: the core reports trip
// lifecycle facts as plain data, and the host decides how to surface them.
package notify

import (
	"go.uber.org/zap"
)

// TripSummary carries the measurements a notification may want to show.
type TripSummary struct {
	DistanceMeters float64
	DurationMs     int64
}

// Notifier receives user-facing trip events.
type Notifier interface {
	TripStarted()
	TripCompleted(summary TripSummary)
	TripDiscarded(summary TripSummary)
}

// LogNotifier surfaces trip events through the structured log. The daemon
// uses it as the default sink; hosts with a real notification channel plug
// in their own Notifier.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) TripStarted() {
	n.logger.Info("Notification: trip started")
}

func (n *LogNotifier) TripCompleted(summary TripSummary) {
	n.logger.Info("Notification: trip completed",
		zap.Float64("distance_m", summary.DistanceMeters),
		zap.Int64("duration_ms", summary.DurationMs),
	)
}

func (n *LogNotifier) TripDiscarded(summary TripSummary) {
	n.logger.Info("Notification: trip too short, not saved",
		zap.Float64("distance_m", summary.DistanceMeters),
		zap.Int64("duration_ms", summary.DurationMs),
	)
}
