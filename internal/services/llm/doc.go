// Package llm provides a rate-limited client for the generateContent API.
//
// The pipeline uses it twice per page: once to extract question items from
// page text and once per extracted item to generate variants.
//
// # Credential Pool
//
// Keys come from [api].keys and GEMINI_API_KEY_1, GEMINI_API_KEY_2, ... (see
// LoadCredentials). The pool is fixed at construction. A rotation cursor
// advances after every key's final outcome so consecutive requests spread
// across keys.
//
// # Pacing
//
// One cooldown clock is shared by all keys: before every attempt the client
// waits until Cooldown has elapsed since the previous dispatch. Rotating keys
// never bypasses the wait.
//
// # Retry Behaviour
//
// HTTP 408/429/5xx and network timeouts retry the same key with backoff
// InitialBackoff*2^n (Retry-After wins when larger), up to MaxRetriesPerKey
// attempts; the cooldown clock is re-stamped after each backoff. Blocked or
// empty responses and other errors move to the next key. Once every key has
// been given up on the request fails with ErrAllKeysExhausted. Context
// cancellation is returned as-is.
package llm
