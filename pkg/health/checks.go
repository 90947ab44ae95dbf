package health

import (
	"context"
	"fmt"
)

// PingCheck reports down when ping fails. A nil ping means the dependency
// is not configured, which is reported as degraded.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if ping == nil {
			return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
		}
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// OptionalPingCheck is PingCheck for dependencies the service can run
// without: a failed ping degrades instead of taking the service down.
func OptionalPingCheck(ping func(ctx context.Context) error) Check {
	inner := PingCheck(ping)
	return func(ctx context.Context) ComponentHealth {
		h := inner(ctx)
		if h.Status == StatusDown {
			h.Status = StatusDegraded
		}
		return h
	}
}

// IndexCheck is degraded while the lexical index holds no documents.
func IndexCheck(documents func() int) Check {
	return func(context.Context) ComponentHealth {
		n := documents()
		if n == 0 {
			return ComponentHealth{Status: StatusDegraded, Message: "index is empty"}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("%d documents indexed", n)}
	}
}

// QueueCheck is degraded once depth reaches 80% of capacity and down when
// the queue is full.
func QueueCheck(depth func() int, capacity int) Check {
	return func(context.Context) ComponentHealth {
		d := depth()
		msg := fmt.Sprintf("%d/%d queued", d, capacity)
		switch {
		case capacity > 0 && d >= capacity:
			return ComponentHealth{Status: StatusDown, Message: msg}
		case capacity > 0 && d*5 >= capacity*4:
			return ComponentHealth{Status: StatusDegraded, Message: msg}
		default:
			return ComponentHealth{Status: StatusUp, Message: msg}
		}
	}
}

// BreakerCheck is degraded while the named circuit breaker is not closed.
func BreakerCheck(state func() string) Check {
	return func(context.Context) ComponentHealth {
		s := state()
		if s != "closed" {
			return ComponentHealth{Status: StatusDegraded, Message: "circuit " + s}
		}
		return ComponentHealth{Status: StatusUp}
	}
}
