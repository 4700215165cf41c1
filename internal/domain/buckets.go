package domain

// HorizonBucket groups prediction horizons for evaluation and weighting.
type HorizonBucket string

const (
	Bucket1to7    HorizonBucket = "1-7"
	Bucket8to14   HorizonBucket = "8-14"
	Bucket15to30  HorizonBucket = "15-30"
	Bucket31to90  HorizonBucket = "31-90"
	Bucket91to380 HorizonBucket = "91-380"
)

// BucketOrder lists buckets shortest-first. Fallback borrowing in the weight
// fitter walks this order backwards.
var BucketOrder = []HorizonBucket{
	Bucket1to7,
	Bucket8to14,
	Bucket15to30,
	Bucket31to90,
	Bucket91to380,
}

// BucketForHorizon maps a days-ahead horizon to its bucket. ok is false for
// horizons outside 1..380.
func BucketForHorizon(horizon int) (HorizonBucket, bool) {
	switch {
	case horizon >= 1 && horizon <= 7:
		return Bucket1to7, true
	case horizon <= 14:
		return Bucket8to14, true
	case horizon <= 30:
		return Bucket15to30, true
	case horizon <= 90:
		return Bucket31to90, true
	case horizon <= 380:
		return Bucket91to380, true
	default:
		return "", false
	}
}

// ShorterBucket returns the next-shorter bucket, ok=false for the shortest.
func ShorterBucket(b HorizonBucket) (HorizonBucket, bool) {
	for i, candidate := range BucketOrder {
		if candidate == b {
			if i == 0 {
				return "", false
			}
			return BucketOrder[i-1], true
		}
	}
	return "", false
}
