package history

// #region best
// Best returns the successful record maximizing Q/V. Ties break first by
// higher Q, then by lowest iteration: the earliest, simplest design wins.
// The second return is false when no successful trial exists.
func Best(records []DesignRecord) (DesignRecord, bool) {
	var best DesignRecord
	found := false
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		if !found || better(rec, best) {
			best = rec
			found = true
		}
	}
	return best, found
}

// better reports whether a outranks b. Records are scanned in iteration
// order, so equal candidates keep the earlier one.
func better(a, b DesignRecord) bool {
	if a.QV != b.QV {
		return a.QV > b.QV
	}
	if a.Q != b.Q {
		return a.Q > b.Q
	}
	return a.Iteration < b.Iteration
}

// #endregion best
