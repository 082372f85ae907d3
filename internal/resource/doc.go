// Package resource bounds the memory held by resident chunks and the IO
// bandwidth spent paging them in.
//
//	┌───────────────────────────────────────────────┐
//	│                  Controller                   │
//	├───────────────┬───────────────┬───────────────┤
//	│ Memory budget │ Read slots    │ IO limiter    │
//	│ (fail fast)   │ (semaphore)   │ (token bucket)│
//	└───────────────┴───────────────┴───────────────┘
//
// ReserveMemory fails with ErrMemoryLimitExceeded when a request does not
// fit next to what is already reserved, so a consumer that keeps too many
// chunks referenced gets an error instead of growing without bound.
//
// All methods are safe for concurrent use and are no-ops on a nil Controller.
package resource
