// Package api serves the read-only status API for scalesync.
//
// Endpoints:
//
//	GET /api/v1/health       liveness, version, scale and client counts
//	GET /api/v1/scales       current record of every registered scale
//	GET /api/v1/runs         recent sync runs, newest first (?limit=N)
//	GET /api/v1/runs/{id}    one run with its PLU corrections and scale results
//	GET /api/v1/ws           WebSocket progress stream
//
// The WebSocket hub is also a scale.Observer. Clients subscribe to one or
// more channels and receive an event message per change:
//
//	scale.progress     per-scale snapshot while downloading
//	scale.completed    snapshot and elapsed time when a scale finishes
//	scale.failed       snapshot of a scale that errored
//	sync.finished      run result and error
//
// There is no authentication. Bind the server to a trusted interface.
package api
