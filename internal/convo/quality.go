package convo

// QualityScore computes the weighted-sum completion score in [0,1]:
// length, diversity, latency (only if every turn has latency), a
// length-quality factor on average content size, and a no-repetition
// bonus from the stricter self-check.
func (r *Record) QualityScore() float64 {
	n := len(r.Turns)
	if n == 0 {
		return 0
	}

	score := 0.0

	lengthFactor := 1.0 - absFloat(float64(n)-6.5)/6.5
	if lengthFactor < 0 {
		lengthFactor = 0
	}
	score += lengthFactor * 0.3

	diversityFactor := float64(len(r.Metadata.ModelsUsed)) / 2.0
	score += diversityFactor * 0.2

	if allHaveLatency(r.Turns) {
		var sum int64
		for _, t := range r.Turns {
			sum += *t.LatencyMS
		}
		avg := float64(sum) / float64(n)
		latencyFactor := 1.0 - absFloat(avg-500)/1000
		if latencyFactor < 0 {
			latencyFactor = 0
		}
		score += latencyFactor * 0.2
	}

	totalChars := 0
	for _, t := range r.Turns {
		totalChars += len(t.Content)
	}
	avgChars := float64(totalChars) / float64(n)
	lengthQuality := avgChars / 200
	if lengthQuality > 1 {
		lengthQuality = 1
	}
	score += lengthQuality * 0.2

	if !r.hasStrictRepetition() {
		score += 0.1
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func allHaveLatency(turns []Turn) bool {
	for _, t := range turns {
		if t.LatencyMS == nil {
			return false
		}
	}
	return true
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
