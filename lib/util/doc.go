// Package util provides the concurrency and scheduling primitives shared by the
// entity store, the write queue and the relay.
//
// The package contains:
//   - lockfreempsc: A lock-free Multi-Producer Single-Consumer (MPSC) queue that hands values to a
//     single consumer goroutine through a channel
//   - mapheap: A keyed min-heap used to schedule entity expiry by block number
//
// This package is particularly useful for:
//   - Components that accept work from many goroutines but must process it in one ordered loop
//   - Stores that need to expire keys by deadline while allowing deadlines to move
package util
