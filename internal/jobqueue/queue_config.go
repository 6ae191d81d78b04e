/*
Package jobqueue configuration - tunable parameters for the River job system.

## Quick Configuration Reference:

### Performance Tuning:
- Increase MaxWorkers for higher throughput (more concurrent housekeeping jobs)
- Lower RetentionKeep to reclaim checkpoint storage more aggressively

### Reliability Tuning:
- Increase MaxRetries for better reliability against transient database errors
- Adjust JobTimeout if reclamation over very deep histories runs long

## Database Requirements:
- PostgreSQL with River schema migrations applied (river migrate-up)
- dead_letter_triage table for storing triage entries (created by Migrate)
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent workers processing jobs (default: 4)

	// Retry Configuration
	MaxRetries int           // Maximum retry attempts per job (default: 10)
	JobTimeout time.Duration // Maximum time a single job can run (default: 1 minute)

	// Checkpoint retention: newest snapshots kept per room during reclamation
	RetentionKeep int // default: 20
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Housekeeping is light; a handful of workers is plenty
		MaxWorkers: 4,

		MaxRetries: 10,
		JobTimeout: 1 * time.Minute,

		RetentionKeep: 20,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
