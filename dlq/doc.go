// Package dlq implements the dead letter queue: terminal, non-retried
// storage for jobs that exhausted their retry budget or failed fatally.
// Entries are kept for manual inspection and can be replayed as fresh jobs.
package dlq
