// Package pubsub provides a bounded single-topic fan-out channel.
//
// Every subscriber owns its own queue. Publishing never blocks: when a
// subscriber's queue is full the oldest queued item is discarded and counted,
// so a slow consumer only ever loses its own backlog.
package pubsub
