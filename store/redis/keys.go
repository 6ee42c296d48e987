package redis

// Redis key naming conventions for job handler data.
// All keys share a configurable prefix so multiple deployments can
// coexist on one instance.

const defaultKeyPrefix = "jobhandler:"

// jobKey returns the key for a job entity: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// queueKey returns the Sorted Set key for a queue: {prefix}queue:{name}
// Score is the job's eligibility time in Unix milliseconds.
func (s *Store) queueKey(name string) string { return s.prefix + "queue:" + name }

// inflightKey is the Sorted Set of in-progress job IDs.
// Score is the lease deadline in Unix milliseconds.
func (s *Store) inflightKey() string { return s.prefix + "inflight" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

// dlqKey returns the key for a DLQ entry entity: {prefix}dlq:{id}
func (s *Store) dlqKey(id string) string { return s.prefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
func (s *Store) dlqIDsKey() string { return s.prefix + "dlq_ids" }
