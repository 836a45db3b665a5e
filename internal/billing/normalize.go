package billing

import (
	"math"
	"sort"
)

// Normalize assigns integer percentages that sum to exactly 100.
//
// Entries are expected in descending-cost order and keep that order. When the
// list is empty or totalCost is not positive, percentages stay unset.
// totalCost may span a different window than the entries.
func Normalize(entries []CostEntry, totalCost float64) {
	if len(entries) == 0 || totalCost <= 0 {
		return
	}
	if len(entries) == 1 {
		entries[0].Percentage = intPtr(100)
		return
	}

	shares := make([]int, len(entries))
	sum := 0
	for i, entry := range entries {
		share := int(math.Floor(entry.Cost / totalCost * 100))
		if share < 0 {
			share = 0
		}
		if share > 100 {
			share = 100
		}
		if entry.Cost > 0 && share == 0 {
			share = 1
		}
		shares[i] = share
		sum += share
	}

	switch {
	case sum > 100:
		sum = shrinkShares(shares, sum)
	case sum < 100:
		sum = growShares(entries, shares, sum)
	}

	for i := range entries {
		entries[i].Percentage = intPtr(shares[i])
	}
}

// shrinkShares takes one point at a time from the largest shares, never going below 1.
func shrinkShares(shares []int, sum int) int {
	order := orderByShare(shares, nil, true)
	for sum > 100 {
		progressed := false
		for _, idx := range order {
			if sum == 100 {
				break
			}
			if shares[idx] <= 1 {
				continue
			}
			shares[idx]--
			sum--
			progressed = true
		}
		// More than 100 billed services: every share is already at the floor.
		if !progressed {
			break
		}
	}
	return sum
}

// growShares adds one point at a time to the smallest shares of billed entries.
func growShares(entries []CostEntry, shares []int, sum int) int {
	candidates := make([]int, 0, len(shares))
	for i, entry := range entries {
		if entry.Cost > 0 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range shares {
			candidates = append(candidates, i)
		}
	}
	order := orderByShare(shares, candidates, false)
	for sum < 100 {
		for _, idx := range order {
			if sum == 100 {
				break
			}
			shares[idx]++
			sum++
		}
	}
	return sum
}

// orderByShare returns indexes sorted by share, original position breaking ties.
func orderByShare(shares []int, subset []int, descending bool) []int {
	order := subset
	if order == nil {
		order = make([]int, len(shares))
		for i := range shares {
			order[i] = i
		}
	}
	order = append([]int(nil), order...)
	sort.SliceStable(order, func(a, b int) bool {
		if descending {
			return shares[order[a]] > shares[order[b]]
		}
		return shares[order[a]] < shares[order[b]]
	})
	return order
}

func intPtr(v int) *int { return &v }
