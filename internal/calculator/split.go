package calculator

import (
	"fmt"
)

// SplitEqually divides total (minor units) evenly among participants.
//
// Integer division leaves total % len(participants) units over; they are added
// to the payer's share so that the shares always sum to total exactly. When the
// payer is not a participant and there is a remainder, the payer gets a share of
// just the remainder.
func SplitEqually(total int64, payerID string, participants []string) (map[string]int64, error) {
	if total <= 0 {
		return nil, fmt.Errorf("total must be positive")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("must have at least one participant")
	}

	splits := make(map[string]int64, len(participants)+1)
	for _, p := range participants {
		if _, dup := splits[p]; dup {
			return nil, fmt.Errorf("participant %q listed twice", p)
		}
		splits[p] = 0
	}

	n := int64(len(participants))
	per := total / n
	remainder := total % n
	for p := range splits {
		splits[p] = per
	}
	if remainder > 0 {
		splits[payerID] += remainder
	}

	return splits, nil
}

// Sum adds up split amounts.
func Sum(splits map[string]int64) int64 {
	var total int64
	for _, v := range splits {
		total += v
	}
	return total
}
