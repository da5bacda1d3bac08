package tickbitmap

import (
	"slices"
	"sort"
)

// NextInitializedTick finds the next initialized tick in a sorted slice of tick
// numbers using binary search.
//
// Parameters:
//   - ticks: A sorted slice of all initialized ticks.
//   - tick: The starting tick for the search.
//   - lte: A boolean indicating the search direction.
//   - If true, it finds the largest initialized tick that is less than or equal to the input `tick`.
//   - If false, it finds the smallest initialized tick that is greater than the input `tick`.
//
// Returns:
//   - next: The next initialized tick found.
//   - initialized: A boolean that is true if an initialized tick was found, and false otherwise.
func NextInitializedTick(ticks []uint32, tick uint32, lte bool) (next uint32, initialized bool) {
	if len(ticks) == 0 {
		return 0, false
	}

	if lte {
		// smallest index i where ticks[i] >= tick
		index := sort.Search(len(ticks), func(i int) bool {
			return ticks[i] >= tick
		})
		if index < len(ticks) && ticks[index] == tick {
			return tick, true
		}
		if index == 0 {
			return 0, false
		}
		return ticks[index-1], true
	}

	// smallest index i where ticks[i] > tick
	index := sort.Search(len(ticks), func(i int) bool {
		return ticks[i] > tick
	})
	if index >= len(ticks) {
		return 0, false
	}
	return ticks[index], true
}

// Insert adds tick to the sorted slice, keeping it sorted and free of duplicates.
func Insert(ticks []uint32, tick uint32) []uint32 {
	index, found := slices.BinarySearch(ticks, tick)
	if found {
		return ticks
	}
	return slices.Insert(ticks, index, tick)
}
