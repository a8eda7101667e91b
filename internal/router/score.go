package router

// DefaultScoreWeights are the stock composite-score weights: complexity,
// inverse confidence, and hallucination risk at 0.4/0.3/0.3 with escalation
// past 0.5.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Complexity:    0.4,
		InvConfidence: 0.3,
		Hallucination: 0.3,
		Threshold:     0.5,
	}
}

// Score computes the composite routing score:
//
//	complexity*w1 + (1-confidence)*w2 + hallucination_risk*w3
func Score(complexity, confidence, hallucinationRisk float64, w ScoreWeights) float64 {
	return complexity*w.Complexity + (1-confidence)*w.InvConfidence + hallucinationRisk*w.Hallucination
}

// hallucinationRisk derives the risk signal from citation gaps and
// contradiction ambiguity. Five repeated citation gaps saturate the citation
// term; the stronger of the two signals wins.
func hallucinationRisk(missingCitations int, contradictionAmbiguity float64) float64 {
	citation := float64(missingCitations) / 5
	if citation > 1 {
		citation = 1
	}
	return max(citation, contradictionAmbiguity)
}
