// Package notify delivers user-facing notifications when background work
// completes. Delivery is fire-and-forget: a failing sink is logged and never
// fails the work that triggered it.
package notify
