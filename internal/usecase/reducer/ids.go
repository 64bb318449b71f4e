package reducer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator returns a fresh message id on every call.
type IDGenerator func() string

// SequentialIDs returns prefix-1, prefix-2, ... Deterministic; used for
// replay and tests.
func SequentialIDs(prefix string) IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// ULIDs returns lexically sortable ids.
func ULIDs() IDGenerator {
	var mu sync.Mutex
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}
