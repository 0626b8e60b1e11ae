package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMatchesPattern(t *testing.T) {
	gen := New()

	for _, entityType := range []string{"record", "slot"} {
		id, err := gen.Generate(entityType)
		require.NoError(t, err)
		assert.True(t, Validate(entityType, id), "id %q should match pattern for %s", id, entityType)
	}
}

func TestGenerateUnknownEntityType(t *testing.T) {
	gen := New()

	_, err := gen.Generate("invoice")
	assert.Error(t, err)
}

func TestGenerateTemporalComponent(t *testing.T) {
	fixed := time.UnixMilli(1234567890123)
	gen := NewWithClock(func() time.Time { return fixed })

	id, err := gen.Generate("record")
	require.NoError(t, err)
	// 1234567890123 % 100000000 = 67890123
	assert.Contains(t, id, "-67890123-")
}

func TestValidateRejectsForeignIDs(t *testing.T) {
	gen := New()

	recordID, err := gen.Generate("record")
	require.NoError(t, err)

	assert.False(t, Validate("slot", recordID))
	assert.False(t, Validate("record", "CREIN-1234-XY"))
	assert.False(t, Validate("unknown", recordID))
}

func TestGenerateConcurrent(t *testing.T) {
	gen := New()

	const n = 1000
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := gen.Generate("slot")
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.True(t, Validate("slot", id))
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
