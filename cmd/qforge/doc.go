// Command qforge extracts exam questions from chapter documents, generates
// variants for them, and supervises the long-running augmentation process.
//
// `qforge augment` starts the pipeline for one chapter as a detached process
// group, `qforge stop` terminates it, and `qforge status` reports the lock
// file and the tail of the pipeline log. `qforge serve` exposes the same
// controls plus the review queue over HTTP.
package main
