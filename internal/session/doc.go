// Package session owns the browser session and serializes every task that
// drives it. A Service admits at most one task at a time, runs tasks and
// browser teardowns on a single worker goroutine, records each task in the
// store, and forwards progress lines to live subscribers through a bounded
// Bridge and a LogBroker.
//
// Two Runner variants exist. SharedRunner keeps one browser alive across
// tasks and tears it down after any failure. IsolatedRunner starts a fresh
// worker process for each task and talks to it over the wire protocol.
package session
