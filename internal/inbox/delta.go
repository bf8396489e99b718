package inbox

import (
	"sort"

	"github.com/Avicted/courier/internal/user"
)

// ListDelta describes how one list turned into the next. Removed holds
// indices into the previous list, Inserted and Updated hold indices into the
// new one. A summary that changed position is reported as removed and
// inserted. All slices are ascending.
type ListDelta struct {
	Removed  []int
	Inserted []int
	Updated  []int
}

func (d ListDelta) Empty() bool {
	return len(d.Removed) == 0 && len(d.Inserted) == 0 && len(d.Updated) == 0
}

// Apply replays the delta on prev, taking inserted and updated entries from
// next. The result equals next when the delta was computed from prev.
func (d ListDelta) Apply(prev, next []Summary) []Summary {
	out := make([]Summary, len(prev))
	copy(out, prev)
	for i := len(d.Removed) - 1; i >= 0; i-- {
		at := d.Removed[i]
		out = append(out[:at], out[at+1:]...)
	}
	for _, at := range d.Inserted {
		out = append(out, Summary{})
		copy(out[at+1:], out[at:])
		out[at] = next[at]
	}
	for _, at := range d.Updated {
		out[at] = next[at]
	}
	return out
}

func diff(prev, next []Summary) ListDelta {
	var delta ListDelta

	nextPos := make(map[user.ID]int, len(next))
	for i, s := range next {
		nextPos[s.Counterpart] = i
	}
	prevPos := make(map[user.ID]int, len(prev))
	for i, s := range prev {
		prevPos[s.Counterpart] = i
	}

	for i, s := range prev {
		if _, ok := nextPos[s.Counterpart]; !ok {
			delta.Removed = append(delta.Removed, i)
		}
	}

	// surviving entries in new order, by their old index
	var newIdx, oldIdx []int
	for i, s := range next {
		if j, ok := prevPos[s.Counterpart]; ok {
			newIdx = append(newIdx, i)
			oldIdx = append(oldIdx, j)
		} else {
			delta.Inserted = append(delta.Inserted, i)
		}
	}

	stay := longestIncreasing(oldIdx)
	for k := range oldIdx {
		if stay[k] {
			if !sameMessage(prev[oldIdx[k]].Message, next[newIdx[k]].Message) {
				delta.Updated = append(delta.Updated, newIdx[k])
			}
			continue
		}
		delta.Removed = append(delta.Removed, oldIdx[k])
		delta.Inserted = append(delta.Inserted, newIdx[k])
	}

	sort.Ints(delta.Removed)
	sort.Ints(delta.Inserted)
	return delta
}

// longestIncreasing marks the members of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []bool {
	keep := make([]bool, len(seq))
	if len(seq) == 0 {
		return keep
	}
	tails := make([]int, 0, len(seq)) // index into seq of the smallest tail per length
	prev := make([]int, len(seq))
	for i, v := range seq {
		n := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		if n > 0 {
			prev[i] = tails[n-1]
		} else {
			prev[i] = -1
		}
		if n == len(tails) {
			tails = append(tails, i)
		} else {
			tails[n] = i
		}
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		keep[i] = true
	}
	return keep
}
