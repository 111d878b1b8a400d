package transport

// Kind names a transport strategy.
type Kind string

const (
	// KindWebSocket is the full-duplex socket transport.
	KindWebSocket Kind = "websocket"

	// KindPolling is the long-polling fallback.
	KindPolling Kind = "polling"
)

func (k Kind) String() string { return string(k) }

// Policy chooses the transport order for one connection attempt.
// Implementations must be pure: the same inputs always give the same order.
type Policy interface {
	Order(attempt int, caps Capabilities) []Kind
}

// DefaultPolicy prefers the full-duplex transport on the very first attempt
// and only when the runtime can carry it. Every later attempt is a
// downgrade to long-polling.
type DefaultPolicy struct{}

// Order implements Policy.
func (DefaultPolicy) Order(attempt int, caps Capabilities) []Kind {
	if attempt <= 1 && caps.FullDuplexReliable {
		return []Kind{KindWebSocket, KindPolling}
	}
	return []Kind{KindPolling}
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(attempt int, caps Capabilities) []Kind

// Order implements Policy.
func (f PolicyFunc) Order(attempt int, caps Capabilities) []Kind {
	return f(attempt, caps)
}

// Negotiate applies DefaultPolicy.
func Negotiate(attempt int, caps Capabilities) []Kind {
	return DefaultPolicy{}.Order(attempt, caps)
}
