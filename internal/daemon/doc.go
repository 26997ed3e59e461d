// Package daemon hosts the long-running `qforge serve` process.
//
// The host holds a flock on the serve lock so only one instance runs, clears
// any stale process lock at startup (no pipeline can legitimately be running
// before its supervisor host exists), and exposes the supervisor and the
// review store over a small JSON HTTP API. The store is opened in WAL mode, so
// review reads proceed while a supervised pipeline is writing pages.
package daemon
