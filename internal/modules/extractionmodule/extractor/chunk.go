package extractor

// ParameterBudget bounds the bind parameters of a single statement
type ParameterBudget struct {
	MaxParams   int
	RowOverhead int
}

// SafeRowLimit returns how many rows of the given width fit in one
// statement, never less than one.
func (b ParameterBudget) SafeRowLimit(columns int) int {
	perRow := max(columns+b.RowOverhead, 1)
	return max(b.MaxParams/perRow, 1)
}

// PlanChunks splits rows into ceil(len/limit) consecutive chunks, preserving
// order. Every row lands in exactly one chunk.
func PlanChunks[T any](rows []T, limit int) [][]T {
	if len(rows) == 0 {
		return nil
	}
	limit = max(limit, 1)

	numChunks := (len(rows) + limit - 1) / limit
	result := make([][]T, 0, numChunks)

	for i := 0; i < len(rows); i += limit {
		end := min(i+limit, len(rows))
		result = append(result, rows[i:end])
	}

	return result
}
