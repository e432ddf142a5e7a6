package worker

// Diff returns the addresses present only in current (added) and only in
// previous (removed). Order follows the input slices; duplicates are dropped.
func Diff(previous, current []string) (added, removed []string) {
	prev := toSet(previous)
	cur := toSet(current)

	seen := make(map[string]struct{}, len(current))
	for _, a := range current {
		if _, ok := prev[a]; ok {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		added = append(added, a)
	}
	clear(seen)
	for _, a := range previous {
		if _, ok := cur[a]; ok {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		removed = append(removed, a)
	}
	return added, removed
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		out[v] = struct{}{}
	}
	return out
}
