// Package browser owns the lifetime of the controllable browser that tasks
// drive. A Controller starts the browser lazily through a Launcher, hands out
// the live Handle, and tears it down on request or after a failed task.
// Controllers are not locked: callers confine each Controller to one goroutine.
package browser
