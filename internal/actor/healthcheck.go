package actor

import (
	"fmt"
	"strings"
	"time"
)

// HealthStatus represents the health status of a loop
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// mailboxPressure is the mailbox usage, in percent, above which a loop is degraded
const mailboxPressure = 90

// HealthMetrics contains health-related metrics for a loop
type HealthMetrics struct {
	// Message queue metrics
	MailboxDepth    int     `json:"mailbox_depth"`
	MailboxCapacity int     `json:"mailbox_capacity"`
	MailboxUsage    float64 `json:"mailbox_usage"` // percentage

	// Activity metrics
	Processed        int64         `json:"processed"`
	LastActivityTime time.Time     `json:"last_activity_time"`
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`

	// Panics recovered from tasks
	PanicCount   int64  `json:"panic_count"`
	LastPanicMsg string `json:"last_panic_msg,omitempty"`
}

// HealthReport contains the complete health assessment of a loop
type HealthReport struct {
	LoopID    string        `json:"loop_id"`
	Status    HealthStatus  `json:"status"`
	Metrics   HealthMetrics `json:"metrics"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthMetrics returns current metrics. It is safe to call from any goroutine.
func (l *Loop) HealthMetrics() HealthMetrics {
	l.mu.RLock()
	startTime := l.startTime
	l.mu.RUnlock()

	depth := len(l.mailbox)
	capacity := cap(l.mailbox)
	var usage float64
	if capacity > 0 {
		usage = float64(depth) / float64(capacity) * 100
	}

	m := HealthMetrics{
		MailboxDepth:    depth,
		MailboxCapacity: capacity,
		MailboxUsage:    usage,
		Processed:       l.processed.Load(),
		StartTime:       startTime,
		PanicCount:      l.panics.Load(),
	}
	if !startTime.IsZero() {
		m.Uptime = time.Since(startTime)
		m.LastActivityTime = time.Unix(0, l.lastActivity.Load())
	}
	if msg, ok := l.lastPanic.Load().(string); ok {
		m.LastPanicMsg = msg
	}
	return m
}

// Health assesses the loop. A loop that is not running is unknown or
// unhealthy; mailbox pressure and recovered panics degrade it.
func (l *Loop) Health() HealthReport {
	metrics := l.HealthMetrics()

	l.mu.RLock()
	started, stopped := l.started, l.stopped
	l.mu.RUnlock()

	report := HealthReport{
		LoopID:    l.id,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}

	switch {
	case !started && !stopped:
		report.Status = HealthStatusUnknown
		report.Message = "Loop has not been started"
		return report
	case stopped:
		report.Status = HealthStatusUnhealthy
		report.Message = "Loop is stopped"
		return report
	}

	var issues []string
	if metrics.MailboxUsage > mailboxPressure {
		issues = append(issues, fmt.Sprintf("high mailbox usage (%.1f%%)", metrics.MailboxUsage))
	}
	if metrics.PanicCount > 0 {
		issues = append(issues, fmt.Sprintf("%d recovered panics, last: %s", metrics.PanicCount, metrics.LastPanicMsg))
	}

	if len(issues) == 0 {
		report.Status = HealthStatusHealthy
		report.Message = "Loop is operating normally"
	} else {
		report.Status = HealthStatusDegraded
		report.Message = "Loop has concerns: " + strings.Join(issues, "; ")
	}
	return report
}

// String formats the report as one log line
func (r HealthReport) String() string {
	return fmt.Sprintf("%s %s: processed=%d mailbox=%d/%d panics=%d uptime=%s (%s)",
		r.LoopID, r.Status, r.Metrics.Processed, r.Metrics.MailboxDepth, r.Metrics.MailboxCapacity,
		r.Metrics.PanicCount, r.Metrics.Uptime.Round(time.Millisecond), r.Message)
}
