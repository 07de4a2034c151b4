// Package dedupe provides a TTL- and size-bounded cache that remembers the
// result of an idempotent request by its key, so a retried request gets the
// original result instead of repeating the side effect.
package dedupe
