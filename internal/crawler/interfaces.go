package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves the raw body of a URL in one fetch mode.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageParser turns page markup into candidate records. Implementations must not
// fail on malformed or empty markup; they return no records instead.
type PageParser interface {
	Parse(markup []byte, pc PageContext) []Record
}

// Sink receives accepted records. Push is append-only and order-preserving.
type Sink interface {
	Push(ctx context.Context, batch []Record) error
}

// Hasher computes digests for content naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
