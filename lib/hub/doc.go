// Package hub serves the relay events to websocket listeners.
//
// Frames are JSON objects {"event": name, "data": {...}}. A new listener first
// receives "connected", afterwards every relay event is forwarded as
// entity:created, entity:updated, entity:deleted, entity:extended or error.
// Listeners may send "ping" and get "pong" with the current listener count.
//
// Handler also serves GET /health and GET /metrics.
package hub
