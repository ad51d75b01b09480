// Package provider defines the capability boundary between the workflow
// engine and the outside world: language model completion (blocking and
// streaming) and documentation retrieval. Node handlers depend on these
// interfaces only, so tests substitute scripted implementations and the
// engine never imports an SDK directly.
package provider
