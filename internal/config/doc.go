// Package config loads, normalizes, and validates qforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QFORGE_API_TOKEN. The Config type centralizes the data/log locations, API
// pacing, pipeline thresholds, supervisor settings, and the chapter map used
// to turn `augment <subject> <chapter>` into a document page range.
//
// API credentials are deliberately not required here; the API client fails
// fast when it is constructed with an empty pool.
package config
