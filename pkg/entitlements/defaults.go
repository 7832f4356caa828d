package entitlements

// FallbackLimit applies to metrics missing from DefaultLimits
const FallbackLimit int64 = 5

// defaultLimits is the built-in daily quota per metric. It is never
// mutated after package init.
var defaultLimits = map[string]int64{
	"ai_shortlist":   3,
	"video_analysis": 2,
	"coach_runs":     2,
	"bias_runs":      2,
	"marketing_runs": 3,
}

// DefaultLimit returns the built-in daily quota for metric
func DefaultLimit(metric string) int64 {
	if limit, ok := defaultLimits[metric]; ok {
		return limit
	}
	return FallbackLimit
}

// KnownMetric reports whether metric has a built-in default
func KnownMetric(metric string) bool {
	_, ok := defaultLimits[metric]
	return ok
}

// DefaultLimits returns a copy of the built-in table
func DefaultLimits() map[string]int64 {
	out := make(map[string]int64, len(defaultLimits))
	for k, v := range defaultLimits {
		out[k] = v
	}
	return out
}

// OverrideKey returns the feature key holding an org override for metric
func OverrideKey(metric string) string {
	return "limits_" + metric + "_per_day"
}
