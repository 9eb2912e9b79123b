package orders

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NumberGenerator returns a human-readable order number.
type NumberGenerator func(now time.Time) string

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXXXX: the UTC date followed by
// the low ten characters of a monotonic ULID. Collisions are possible in
// principle; the order_numbers guard row rejects them at commit.
func NewOrderNumber(now time.Time) string {
	id := ulid.Make().String()
	return "ORD-" + now.UTC().Format("20060102") + "-" + id[len(id)-10:]
}
