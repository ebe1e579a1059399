package offer

import "github.com/leadcore/intent-core/internal/domain"

type Readiness string

const (
	ReadinessHot  Readiness = "hot"
	ReadinessWarm Readiness = "warm"
	ReadinessCold Readiness = "cold"
)

// ReadinessFor labels a score against the high-intent threshold: hot above
// it, warm once at least one signal has landed, cold otherwise.
func ReadinessFor(intentScore, highIntentThreshold int) Readiness {
	switch {
	case intentScore > highIntentThreshold:
		return ReadinessHot
	case intentScore >= domain.SignalIncrement:
		return ReadinessWarm
	default:
		return ReadinessCold
	}
}
