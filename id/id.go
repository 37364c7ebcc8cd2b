// Package id hands out time-sortable identifiers for orders, tickets and
// journal rows.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs. The zero value is not usable; use
// NewGenerator.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator seeds a monotonic entropy source from crypto/rand. now may be
// nil, in which case the wall clock is used.
func NewGenerator(now func() time.Time) *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     now,
	}
}

// Next returns a new ULID string.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.entropy)
	if err != nil {
		// only possible if the clock runs backwards past the epoch
		panic(err)
	}
	return u.String()
}

// WithPrefix returns prefix-ULID, e.g. "ord-01J...".
func (g *Generator) WithPrefix(prefix string) string {
	if prefix == "" {
		return g.Next()
	}
	return prefix + "-" + g.Next()
}

var std = NewGenerator(nil)

// New returns a ULID from the package generator.
func New() string { return std.Next() }

// Order returns an identifier for an order request.
func Order() string { return std.WithPrefix("ord") }

// Time extracts the embedded timestamp of an identifier produced by this
// package. Prefixed identifiers are accepted.
func Time(s string) (time.Time, bool) {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		s = s[i+1:]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
