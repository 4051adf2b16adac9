// Package status holds the process-wide reconnect flags shared by the state
// store, the task channels and the control loop scheduler.
package status

import "sync/atomic"

// Status reports whether a backing service is currently being reconnected.
// The store flag has a single writer (the store's reconnect supervisor).
// Channels share one flag, tracked as an in-flight counter so that several
// channels reconnecting at once do not clear each other's state.
type Status struct {
	store    atomic.Bool
	channels atomic.Int32
}

// New returns a Status with every flag cleared.
func New() *Status { return &Status{} }

// SetStoreReconnecting records whether the state store supervisor is running.
func (s *Status) SetStoreReconnecting(v bool) { s.store.Store(v) }

// StoreReconnecting reports the state store flag.
func (s *Status) StoreReconnecting() bool { return s.store.Load() }

// BeginChannelReconnect raises the channel flag until the returned function is
// called. The returned function is safe to call more than once.
func (s *Status) BeginChannelReconnect() func() {
	s.channels.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			s.channels.Add(-1)
		}
	}
}

// ChannelReconnecting reports whether any task channel is reconnecting.
func (s *Status) ChannelReconnecting() bool { return s.channels.Load() > 0 }

// AnyReconnecting is true while either the store or a channel reconnects.
func (s *Status) AnyReconnecting() bool {
	return s.StoreReconnecting() || s.ChannelReconnecting()
}
