// Package jobhandler provides a reliable Redis-backed job-queue worker core
// for the Door43 conversion pipeline. It offers library-first background job
// processing with at-least-once delivery, lease-based exclusive claims,
// exponential-backoff retries, and dead-lettering.
//
// The worker core is deliberately payload-agnostic: the embedding application
// registers a handler per job kind and the worker claims, leases, executes,
// and resolves jobs against a shared broker.
//
// # Quick Start
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(client)
//
//	eng, err := engine.New(jobhandler.DefaultConfig(), store, store)
//	engine.Register(eng, job.NewDefinition("noop", func(ctx context.Context, _ struct{}) error {
//	    return nil
//	}))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, dlq) defines its own store interface and a single
// backend implements all of them. The broker's atomic claim operation is the
// sole cross-process serialization point; within one worker, a per-job lease
// renewer keeps ownership alive while the handler runs.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobhandler
