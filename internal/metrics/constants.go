package metrics

// ============================================================================
// Metric Names
// ============================================================================

// HTTP metric names
const (
	MetricNameHTTPRequestsTotal    = "attendsync_http_requests_total"
	MetricNameHTTPRequestDuration  = "attendsync_http_request_duration_seconds"
	MetricNameHTTPRequestsInFlight = "attendsync_http_requests_in_flight"
)

// Sync metric names
const (
	MetricNameFlushRuns          = "attendsync_flush_runs_total"
	MetricNameFlushDuration      = "attendsync_flush_duration_seconds"
	MetricNameQueueItemsReplayed = "attendsync_queue_items_replayed_total"
	MetricNameQueueDepth         = "attendsync_queue_depth"
	MetricNameRemoteCalls        = "attendsync_remote_calls_total"
)

// Attendance metric names
const (
	MetricNameCheckIns  = "attendsync_checkins_total"
	MetricNameCheckouts = "attendsync_checkouts_total"
)

// ============================================================================
// Metric Help Text
// ============================================================================

const (
	HelpTextHTTPRequestsTotal    = "Total number of HTTP requests"
	HelpTextHTTPRequestDuration  = "HTTP request latency in seconds"
	HelpTextHTTPRequestsInFlight = "Current number of HTTP requests being served"

	HelpTextFlushRuns          = "Total number of queue flushes"
	HelpTextFlushDuration      = "Queue flush duration in seconds"
	HelpTextQueueItemsReplayed = "Queue items replayed against the remote, by operation and result"
	HelpTextQueueDepth         = "Current number of queue items by status"
	HelpTextRemoteCalls        = "Remote backend calls by operation and result"

	HelpTextCheckIns  = "Check-ins recorded, by how they reached the remote"
	HelpTextCheckouts = "Checkouts recorded, by how they reached the remote"
)

// ============================================================================
// Labels
// ============================================================================

const (
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelOperation = "operation"
	LabelResult    = "result"
	LabelMode      = "mode"
)

// Result label values
const (
	ResultSynced  = "synced"
	ResultFailed  = "failed"
	ResultRetry   = "retry"
	ResultSkipped = "skipped"
	ResultOK      = "ok"
	ResultError   = "error"
)

// Mode label values
const (
	ModeImmediate = "immediate"
	ModeQueued    = "queued"
	ModeLocal     = "local"
)

// ============================================================================
// Buckets
// ============================================================================

var (
	HTTPLatencyBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	FlushLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
)
