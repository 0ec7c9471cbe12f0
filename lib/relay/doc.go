// Package relay keeps a single entity event subscription alive and normalizes its
// callbacks into events for the websocket fan-out.
//
// Subscriptions are backed by server-side filters which expire. The first
// "filter not found" error of an episode moves the relay to PhaseReconnecting and
// arms one reconnect after min(BaseDelay*2^attempt, MaxDelay). Errors arriving while
// the reconnect is in flight are ignored. The reconnect stops the old subscription,
// waits StopSettle, resubscribes and waits DrainSettle before it accepts new episodes.
// The next healthy entity event resets the attempt counter and the phase to
// PhaseConnected. A healthy event seen during DrainSettle takes effect once the
// settle ends. Active reports whether a subscription is held regardless of phase,
// so a quiet store still counts as connected for health reporting.
//
// While a reconnect is in flight, and for StartupSettle after Start, ShouldDemote
// reports filter noise so the logger writes it at DEBUG level. Other subscription
// errors are always logged and forwarded as "error" events.
package relay
