package textutil

// CosineSimilarity scores two fingerprints in [0, 1]. A nil or empty
// fingerprint scores 0 against anything.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a.tokens, b.tokens
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for token, count := range small {
		dot += count * large[token]
	}
	score := dot / (a.norm * b.norm)
	if score > 1 {
		// Rounding on identical vectors.
		return 1
	}
	return score
}
