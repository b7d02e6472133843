// Package bulk provides a fan-out dispatcher for sending one message to
// every member of a group.
//
// A dispatch is represented as a Job keyed by an opaque token. Dispatch
// resolves the group membership once, records a pending job, and hands it
// to a worker pool. Workers send to each member in stable order, pacing
// sends with the per-job delay and a service-level rate limiter, and track
// sent/failed counts plus a per-target result list.
//
// Job state is in-memory only. Nothing survives a restart, and the
// registry is bounded: terminal jobs are evicted by TTL and the map is
// capped, oldest-finished first.
package bulk
