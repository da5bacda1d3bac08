package tickbitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextInitializedTick(t *testing.T) {
	initialized := []uint32{1, 3, 7, 20, 100}

	testCases := []struct {
		name                string
		ticks               []uint32
		startTick           uint32
		lte                 bool // Search direction
		expectedNext        uint32
		expectedInitialized bool
	}{
		// --- Search Left (lte = true) ---
		{"LTE: Exact Match", initialized, 7, true, 7, true},
		{"LTE: Between Ticks", initialized, 10, true, 7, true},
		{"LTE: Just Above a Tick", initialized, 4, true, 3, true},
		{"LTE: At First Tick", initialized, 1, true, 1, true},
		{"LTE: Before First Tick", initialized, 0, true, 0, false},
		{"LTE: After Last Tick", initialized, 500, true, 100, true},

		// --- Search Right (lte = false, implemented as >) ---
		{"GT: On an existing tick", initialized, 7, false, 20, true},
		{"GT: Between Ticks", initialized, 5, false, 7, true},
		{"GT: From zero", initialized, 0, false, 1, true},
		{"GT: At Last Tick", initialized, 100, false, 0, false},
		{"GT: After Last Tick", initialized, 101, false, 0, false},

		// --- Edge Cases ---
		{"Edge: Empty Slice (LTE)", []uint32{}, 100, true, 0, false},
		{"Edge: Empty Slice (GT)", nil, 100, false, 0, false},
		{"Edge: Single Element Match (LTE)", []uint32{100}, 100, true, 100, true},
		{"Edge: Single Element No Match (GT)", []uint32{100}, 100, false, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := NextInitializedTick(tc.ticks, tc.startTick, tc.lte)

			assert.Equal(t, tc.expectedInitialized, ok)
			if ok {
				assert.Equal(t, tc.expectedNext, next)
			}
		})
	}
}

func TestInsert(t *testing.T) {
	var ticks []uint32
	for _, tick := range []uint32{7, 1, 20, 7, 3, 1} {
		ticks = Insert(ticks, tick)
	}
	assert.Equal(t, []uint32{1, 3, 7, 20}, ticks)

	// inserting a present tick keeps the slice unchanged
	assert.Equal(t, []uint32{1, 3, 7, 20}, Insert(ticks, 3))
}
