// Package job defines the core job model for the worker.
//
// A [Job] represents a unit of work. It embeds [jobhandler.Entity] for
// timestamps and carries identity, kind, payload, attempt accounting, and
// the lease fields that enforce single-owner processing.
//
// The [Registry] maps job kinds to handlers. Registration is validated and
// the registry is sealed when the worker starts; unknown kinds reaching a
// worker are a configuration error and are dead-lettered without a retry.
//
// The [Store] interface is the queue-client contract every broker backend
// implements. All operations are safe for concurrent use by competing
// worker processes; the backend's atomic primitives are the only
// serialization point.
package job
