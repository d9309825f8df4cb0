package history

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
)

// #region comparison
// Comparison is a tabular side-by-side diff of trials: one column per
// iteration, one row per parameter and metric.
type Comparison struct {
	Iterations []int
	Rows       []ComparisonRow
}

// ComparisonRow is a single field across the compared trials. Differs is
// set when at least two columns disagree.
type ComparisonRow struct {
	Field   string
	Values  []string
	Differs bool
}

// #endregion comparison

// #region compare
// Compare builds the diff table for the requested iterations.
func Compare(records []DesignRecord, iterations []int) (Comparison, error) {
	if len(iterations) < 2 {
		return Comparison{}, fmt.Errorf("compare needs at least 2 iterations, got %d", len(iterations))
	}

	byIter := make(map[int]DesignRecord, len(records))
	for _, rec := range records {
		byIter[rec.Iteration] = rec
	}

	ids := append([]int(nil), iterations...)
	sort.Ints(ids)

	selected := make([]DesignRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byIter[id]
		if !ok {
			return Comparison{}, fmt.Errorf("iteration %d not in history", id)
		}
		selected = append(selected, rec)
	}

	cmp := Comparison{Iterations: ids}
	addRow := func(field string, value func(DesignRecord) string) {
		row := ComparisonRow{Field: field, Values: make([]string, 0, len(selected))}
		for _, rec := range selected {
			row.Values = append(row.Values, value(rec))
		}
		for _, v := range row.Values[1:] {
			if v != row.Values[0] {
				row.Differs = true
				break
			}
		}
		cmp.Rows = append(cmp.Rows, row)
	}

	addRow(params.FieldPeriodNM, func(r DesignRecord) string { return formatG(r.Params.Canon().PeriodNM) })
	addRow(params.FieldWgWidthNM, func(r DesignRecord) string { return formatG(r.Params.Canon().WgWidthNM) })
	addRow(params.FieldHoleRxNM, func(r DesignRecord) string { return formatG(r.Params.Canon().HoleRxNM) })
	addRow(params.FieldHoleRyNM, func(r DesignRecord) string { return formatG(r.Params.Canon().HoleRyNM) })
	addRow(params.FieldNumTaperHoles, func(r DesignRecord) string { return strconv.Itoa(r.Params.NumTaperHoles) })
	addRow(params.FieldNumMirrorHoles, func(r DesignRecord) string { return strconv.Itoa(r.Params.NumMirrorHoles) })
	addRow(params.FieldMinAPercent, func(r DesignRecord) string { return formatG(r.Params.Canon().MinAPercent) })
	addRow(params.FieldMinRxPercent, func(r DesignRecord) string { return formatG(r.Params.Canon().MinRxPercent) })
	addRow(params.FieldMinRyPercent, func(r DesignRecord) string { return formatG(r.Params.Canon().MinRyPercent) })
	addRow("Q", func(r DesignRecord) string { return formatG(r.Q) })
	addRow("V", func(r DesignRecord) string { return formatG(r.V) })
	addRow("QV", func(r DesignRecord) string { return formatG(r.QV) })
	addRow("resonance_nm", func(r DesignRecord) string { return formatG(r.ResonanceNM) })
	addRow("phase", func(r DesignRecord) string { return string(r.PhaseAtEvaluation) })
	addRow("success", func(r DesignRecord) string { return strconv.FormatBool(r.Success) })

	return cmp, nil
}

func formatG(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// #endregion compare
