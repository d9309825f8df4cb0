package history

import "github.com/nanobeamlab/cavity-designer/go-controller/internal/params"

// #region duplicate
// FindDuplicate returns the earliest successful record whose full parameter
// snapshot exactly matches the candidate. Failed trials are excluded so a
// parameter set that hit a simulator fault may legitimately be retried.
// This check is the mechanism that bounds wasted FDTD runs.
func FindDuplicate(candidate params.DesignParams, records []DesignRecord) (DesignRecord, bool) {
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		if rec.Params.Equal(candidate) {
			return rec, true
		}
	}
	return DesignRecord{}, false
}

// #endregion duplicate
