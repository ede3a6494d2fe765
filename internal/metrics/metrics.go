// Package metrics provides interfaces and implementations for collecting
// authd metrics: connection counts, authentication outcomes, worker pool
// health, and the number of FAIL replies sent through the failure-delay
// queue.
package metrics

import "context"

// Collector defines the interface for recording authd metrics.
type Collector interface {
	// Connection metrics, split by listener kind (CLIENT/MASTER).
	ConnectionOpened(kind string)
	ConnectionClosed(kind string)

	// AuthAttempt records an authentication outcome for a mechanism.
	AuthAttempt(mechanism string, success bool)

	// AuthFailureDelayed records a FAIL response entering the failure-delay queue.
	AuthFailureDelayed()

	// WorkerSpawned records a worker subprocess starting.
	WorkerSpawned()

	// WorkerExited records a worker subprocess exiting (crash or clean).
	WorkerExited(crashed bool)

	// WorkerRequestCompleted records one worker dispatch outcome
	// ("ok", "fail", "notfound", "tempfail").
	WorkerRequestCompleted(result string)

	// WorkerQueueDepth reports the current FIFO queue depth across all workers.
	WorkerQueueDepth(depth int)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error
}
