// Package safego launches background goroutines that survive panics.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// letting it take the process down. Use it for fire-and-forget work such as
// audit writes and last-used bookkeeping, where a panic would otherwise kill
// the goroutine silently.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
