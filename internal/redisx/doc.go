// Package redisx is the control plane's Redis surface: the wake bus
// that coalesces cross-coordinator nudges, the bounded per-owner SSE
// event stream, and the last-access activity store the TTL scheduler
// consults.
//
// It generalizes the teacher's in-process events.Broker
// (subscribe/publish/broadcast over Go channels) to cross-process
// pub/sub, since here every coordinator replica is a separate OS
// process rather than a goroutine inside one. Channel and key naming
// follows the original Python implementation's redis_pubsub.py and
// redis_streams.py exactly, since spec.md defers wire-level naming to
// it.
package redisx
