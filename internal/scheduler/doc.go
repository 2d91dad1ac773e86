// Package scheduler triggers alert batches in daemon mode.
//
// A single job is registered with robfig/cron. Overlapping triggers are
// skipped while a batch is still running, and Stop waits for the running
// batch to finish.
package scheduler
