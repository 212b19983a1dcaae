package logging

// ProgressSampler throttles "N of M done" progress logs to one line per
// percentage bucket so long runs stay readable.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
}

// NewProgressSampler returns a sampler that emits each time progress crosses
// a bucketSize percent boundary (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether completing done of total units deserves a log
// line. The final unit always logs. A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(done, total int) bool {
	if s == nil || total <= 0 {
		return true
	}
	if done >= total {
		s.lastBucket = int(100 / s.bucketSize)
		return true
	}
	bucket := int(Percent(done, total) / s.bucketSize)
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Percent returns done/total as a percentage.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
