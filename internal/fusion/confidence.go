package fusion

import "math"

const (
	scoreShare     = 0.5
	rankShare      = 0.3
	agreementBonus = 0.2
)

// confidence blends the fused score relative to the best result, a rank
// decay of 1/(1+ln(maxRank)) over the worst rank the document held, and a
// bonus when both retrieval paths returned it. The result lies in [0,1].
func confidence(en *entry, maxFused float64) float64 {
	norm := 0.0
	if maxFused > 0 {
		norm = en.fused / maxFused
	}
	maxRank := en.lexicalRank
	if en.semanticRank > maxRank {
		maxRank = en.semanticRank
	}
	decay := 0.0
	if maxRank > 0 {
		decay = 1 / (1 + math.Log(float64(maxRank)))
	}
	c := scoreShare*norm + rankShare*decay
	if en.inBoth() {
		c += agreementBonus
	}
	return clamp(c, 0, 1)
}
