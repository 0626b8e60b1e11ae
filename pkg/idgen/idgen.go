package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"regexp"
	"time"
)

// Format describes the fixed segments of one entity type's identifier:
// a layer code, a domain code and a microprocess code, followed by a
// time-derived component and two random components.
type Format struct {
	Layer   string
	Domain  string
	Micro   string
	Pattern *regexp.Regexp
}

func (f Format) prefix() string {
	return f.Layer + f.Domain + f.Micro
}

// temporalBound keeps the time component to 8 digits. It wraps roughly
// every 28 hours, which is fine: it exists for weak ordering inside a
// window, not for uniqueness.
const temporalBound = 100_000_000

var formats = map[string]Format{
	"record": {
		Layer:   "C",
		Domain:  "RE",
		Micro:   "IN",
		Pattern: regexp.MustCompile(`^CREIN-\d{8}-[0-9A-F]{4}-[0-9A-F]{4}$`),
	},
	"slot": {
		Layer:   "C",
		Domain:  "SL",
		Micro:   "CT",
		Pattern: regexp.MustCompile(`^CSLCT-\d{8}-[0-9A-F]{4}-[0-9A-F]{4}$`),
	},
}

// Generator produces identifiers from local time and randomness only.
// It is stateless and safe to call from any number of processes with
// no coordination.
//
// Uniqueness is probabilistic, not guaranteed: within one millisecond
// bucket two generated ids collide with probability 2^-32 (two 16-bit
// random segments). At expected volumes this is an accepted
// operational risk, not something a registry protects against.
type Generator struct {
	now func() time.Time
}

func New() *Generator {
	return &Generator{now: time.Now}
}

// NewWithClock is used by tests that need a fixed temporal component.
func NewWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Generate returns an identifier conforming to the entity type's
// format pattern.
func (g *Generator) Generate(entityType string) (string, error) {
	f, ok := formats[entityType]
	if !ok {
		return "", fmt.Errorf("idgen: unknown entity type %q", entityType)
	}

	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("idgen: read randomness: %w", err)
	}
	r1 := binary.BigEndian.Uint16(buf[0:2])
	r2 := binary.BigEndian.Uint16(buf[2:4])

	temporal := g.now().UnixMilli() % temporalBound
	id := fmt.Sprintf("%s-%08d-%04X-%04X", f.prefix(), temporal, r1, r2)
	if !f.Pattern.MatchString(id) {
		return "", fmt.Errorf("idgen: generated id %q does not match pattern for %q", id, entityType)
	}
	return id, nil
}

// Validate reports whether id conforms to the entity type's pattern.
func Validate(entityType, id string) bool {
	f, ok := formats[entityType]
	if !ok {
		return false
	}
	return f.Pattern.MatchString(id)
}
