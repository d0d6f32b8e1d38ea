// Package inference is the composition root of the enhancement server. It
// validates invocations, resolves models, sizes batches and drives items
// through fetch, enhance and store. It is structured into small files by
// concern:
//
//   - service.go: Service type, constructor, warm-up and readiness.
//   - build.go: Build wires every component from a config.Config.
//   - parse.go: boundary parsing of InvocationRequest into typed requests.
//   - process.go: per-item pipeline and single/batch processing.
//   - errors.go: ValidationError and the error → ErrorKind mapping.
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//   - status.go: the /status snapshot.
//   - metrics.go: Prometheus collectors for items and batches.
//
// External packages should use public methods only (Build/New, Warmup,
// Invoke, ProcessSingle, ProcessBatch, Status, Ready, ListModels, Close).
package inference
