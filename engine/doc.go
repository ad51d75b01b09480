// Package engine drives compiled workflow graphs: it executes node
// handlers in graph order, persists a checkpoint after every step,
// suspends on interrupts, and resumes threads from their latest
// checkpoint. Execution is serialized per thread and capped globally.
package engine
