package redis

import "github.com/redis/go-redis/v9"

// Lua scripts for lease-checked job transitions. Each script runs
// atomically on the server, so two workers can never both hold a live
// lease on the same job.
//
// Ownership convention shared by the scripts: a caller owns a job when
// the hash state is "in_progress", the stored worker_id matches, and
// the inflight deadline (score) is still in the future. Scripts return
// "ok", "lost", or "not_found"; claim returns the job ID or false.

// claimScript pops the earliest due job from a queue Sorted Set and
// transitions it to in_progress under the caller's lease.
//
// KEYS[1] = queue zset
// KEYS[2] = inflight zset
// ARGV[1] = now (unix ms)
// ARGV[2] = lease deadline (unix ms)
// ARGV[3] = worker id
// ARGV[4] = key prefix
// ARGV[5] = lease deadline (RFC3339Nano)
// ARGV[6] = now (RFC3339Nano)
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
local id = due[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[4] .. 'job:' .. id,
  'state', 'in_progress',
  'worker_id', ARGV[3],
  'lease_expires_at', ARGV[5],
  'started_at', ARGV[6],
  'updated_at', ARGV[6])
return id
`)

// renewScript extends the lease deadline if the caller still owns the job.
//
// KEYS[1] = job hash
// KEYS[2] = inflight zset
// ARGV[1] = worker id
// ARGV[2] = job id
// ARGV[3] = now (unix ms)
// ARGV[4] = new lease deadline (unix ms)
// ARGV[5] = new lease deadline (RFC3339Nano)
// ARGV[6] = now (RFC3339Nano)
var renewScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
local state = redis.call('HGET', KEYS[1], 'state')
local owner = redis.call('HGET', KEYS[1], 'worker_id')
if state ~= 'in_progress' or owner ~= ARGV[1] then
  return 'lost'
end
local deadline = redis.call('ZSCORE', KEYS[2], ARGV[2])
if not deadline or tonumber(deadline) <= tonumber(ARGV[3]) then
  return 'lost'
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[5], 'updated_at', ARGV[6])
return 'ok'
`)

// ackScript marks a job succeeded. Acking an already-succeeded job is a
// no-op so redelivered completions stay idempotent.
//
// KEYS[1] = job hash
// KEYS[2] = inflight zset
// ARGV[1] = worker id
// ARGV[2] = job id
// ARGV[3] = now (unix ms)
// ARGV[4] = now (RFC3339Nano)
var ackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'succeeded' then
  return 'ok'
end
local owner = redis.call('HGET', KEYS[1], 'worker_id')
if state ~= 'in_progress' or owner ~= ARGV[1] then
  return 'lost'
end
local deadline = redis.call('ZSCORE', KEYS[2], ARGV[2])
if not deadline or tonumber(deadline) <= tonumber(ARGV[3]) then
  return 'lost'
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[1],
  'state', 'succeeded',
  'completed_at', ARGV[4],
  'worker_id', '',
  'lease_expires_at', '',
  'updated_at', ARGV[4])
return 'ok'
`)

// requeueScript returns a job to its queue for a later retry, bumping
// the attempt counter and recording the failure message.
//
// KEYS[1] = job hash
// KEYS[2] = inflight zset
// ARGV[1] = worker id
// ARGV[2] = job id
// ARGV[3] = now (unix ms)
// ARGV[4] = next run time (unix ms)
// ARGV[5] = next run time (RFC3339Nano)
// ARGV[6] = last error message
// ARGV[7] = key prefix
// ARGV[8] = now (RFC3339Nano)
var requeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
local state = redis.call('HGET', KEYS[1], 'state')
local owner = redis.call('HGET', KEYS[1], 'worker_id')
if state ~= 'in_progress' or owner ~= ARGV[1] then
  return 'lost'
end
local deadline = redis.call('ZSCORE', KEYS[2], ARGV[2])
if not deadline or tonumber(deadline) <= tonumber(ARGV[3]) then
  return 'lost'
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1],
  'state', 'queued',
  'run_at', ARGV[5],
  'last_error', ARGV[6],
  'worker_id', '',
  'lease_expires_at', '',
  'started_at', '',
  'updated_at', ARGV[8])
local queue = redis.call('HGET', KEYS[1], 'queue')
redis.call('ZADD', ARGV[7] .. 'queue:' .. queue, ARGV[4], ARGV[2])
return 'ok'
`)

// deadLetterScript transitions a job to dead_lettered.
//
// KEYS[1] = job hash
// KEYS[2] = inflight zset
// ARGV[1] = worker id
// ARGV[2] = job id
// ARGV[3] = now (unix ms)
// ARGV[4] = reason
// ARGV[5] = now (RFC3339Nano)
var deadLetterScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 'not_found'
end
local state = redis.call('HGET', KEYS[1], 'state')
local owner = redis.call('HGET', KEYS[1], 'worker_id')
if state ~= 'in_progress' or owner ~= ARGV[1] then
  return 'lost'
end
local deadline = redis.call('ZSCORE', KEYS[2], ARGV[2])
if not deadline or tonumber(deadline) <= tonumber(ARGV[3]) then
  return 'lost'
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[1],
  'state', 'dead_lettered',
  'last_error', ARGV[4],
  'completed_at', ARGV[5],
  'worker_id', '',
  'lease_expires_at', '',
  'updated_at', ARGV[5])
return 'ok'
`)

// requeueExpiredScript moves in-progress jobs with lapsed leases back to
// their queues, preserving attempt counters. Returns the reclaimed IDs.
//
// KEYS[1] = inflight zset
// ARGV[1] = now (unix ms)
// ARGV[2] = key prefix
// ARGV[3] = now (RFC3339Nano)
// ARGV[4] = batch limit
var requeueExpiredScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[2] .. 'job:' .. id
  redis.call('HSET', key,
    'state', 'queued',
    'run_at', ARGV[3],
    'worker_id', '',
    'lease_expires_at', '',
    'started_at', '',
    'updated_at', ARGV[3])
  local queue = redis.call('HGET', key, 'queue')
  redis.call('ZADD', ARGV[2] .. 'queue:' .. queue, ARGV[1], id)
end
return expired
`)
