// Package ratelimit defines admission control for the chat assistant.
//
// Callers are counted in fixed one-minute windows: anonymous sessions get
// 10 calls per window, signed-in members 30. A rejected call carries the
// whole seconds left until its window resets. State is per process; two
// replicas each admit the full limit.
package ratelimit
