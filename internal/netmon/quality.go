package netmon

import "time"

// Quality is the derived classification of the link from recent latency.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

// Classify maps a latency sample to a quality bucket. Pure function;
// quality is always recomputed, never stored authoritatively.
func Classify(latency time.Duration) Quality {
	switch {
	case latency < 50*time.Millisecond:
		return QualityExcellent
	case latency < 150*time.Millisecond:
		return QualityGood
	case latency < 300*time.Millisecond:
		return QualityFair
	default:
		return QualityPoor
	}
}
