package submission

// EstimateSeconds is a linear queue-depth heuristic capped at maxSeconds.
// It is non-decreasing in position.
func EstimateSeconds(position, baseSecondsPerItem, maxSeconds int64) int64 {
	if position <= 0 || baseSecondsPerItem <= 0 {
		return 0
	}
	if position > maxSeconds/baseSecondsPerItem {
		return maxSeconds
	}
	return min(baseSecondsPerItem*position, maxSeconds)
}
