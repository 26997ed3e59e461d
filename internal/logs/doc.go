// Package logs reads the append-only pipeline log.
//
// Tail returns the last N lines with bounded memory, or the lines appended
// after a known offset. Follow mode polls until new output appears or the
// wait elapses, which is how `qforge logs --follow` streams a supervised run.
package logs
