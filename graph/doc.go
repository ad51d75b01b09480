// Package graph defines the static workflow graph: named node handlers,
// fixed and conditional edges, the state schema with per-field merge
// policies, and build-time validation.
//
// A Graph is built once via the Builder and is immutable afterwards. Build
// failure is fatal by design: an invalid graph is a configuration defect,
// not a runtime condition the engine can recover from.
package graph
