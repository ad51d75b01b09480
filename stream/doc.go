// Package stream provides the per-invocation output channel between a
// running node and the caller that invoked or resumed the thread.
//
// The Sink keeps the full ordered transcript of fragments; subscriber
// channels are fed from that transcript by replay, so a slow or abandoned
// consumer can never block or corrupt the producing node. The committed
// node output and the streamed view are the same data.
package stream
