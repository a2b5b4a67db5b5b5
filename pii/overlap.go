package pii

import "sort"

// resolveOverlaps returns a non-overlapping subset of results ordered by
// start. When two spans overlap the higher score wins, then the longer span,
// then the earlier one.
func resolveOverlaps(results []RecognizerResult) []RecognizerResult {
	if len(results) < 2 {
		return results
	}

	ranked := make([]RecognizerResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	kept := make([]RecognizerResult, 0, len(ranked))
	for _, r := range ranked {
		overlaps := false
		for _, k := range kept {
			if r.Start < k.End && k.Start < r.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, r)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Start < kept[j].Start
	})
	return kept
}
