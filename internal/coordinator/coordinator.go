// Package coordinator is the single sanctioned link between the session and
// the resource caches: it propagates session termination into cache
// clearing. Neither side references the other directly.
package coordinator

import "context"

// ClearedSource is the session side: hook registration for the
// session-cleared transition.
type ClearedSource interface {
	OnCleared(func(context.Context))
}

// Cache is anything emptied when the session ends.
type Cache interface {
	Clear()
}

// Bind subscribes each cache's Clear to the source's cleared transition. The
// hooks run synchronously inside that transition, so by the time a logout or
// an authorization-failure invalidation returns, every bound cache is empty.
func Bind(src ClearedSource, caches ...Cache) {
	src.OnCleared(func(context.Context) {
		for _, c := range caches {
			c.Clear()
		}
	})
}
