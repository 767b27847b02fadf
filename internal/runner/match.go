package runner

// matchSubset reports whether actual satisfies expected. Maps match
// key-by-key: every key in expected must exist in actual with a matching
// value; extra keys in actual are ignored. Slices match elementwise and must
// be the same length. Numbers compare numerically regardless of concrete type
// so YAML-decoded expectations line up with JSON-decoded bodies. Anything
// else must be deeply equal.
func matchSubset(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range exp {
			av, present := act[k]
			if !present || !matchSubset(ev, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !matchSubset(exp[i], act[i]) {
				return false
			}
		}
		return true
	case nil:
		return actual == nil
	default:
		if ef, ok := toFloat(expected); ok {
			af, ok := toFloat(actual)
			return ok && ef == af
		}
		return expected == actual
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
