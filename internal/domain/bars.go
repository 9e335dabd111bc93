package domain

import (
	"math"
	"time"
)

// BaseResolution is the exchange candle size used to build bars of
// timeframeMinutes: 1 minute up to an hour, 60 minutes above.
func BaseResolution(timeframeMinutes int) int {
	if timeframeMinutes <= 60 {
		return 1
	}
	return 60
}

// AggregateBars re-buckets newest-first subbars into bars of
// timeframeMinutes whose boundaries are shifted by offsetMinutes. The result
// is newest first.
func AggregateBars(subbars []Bar, timeframeMinutes, offsetMinutes int) []Bar {
	if len(subbars) == 0 || timeframeMinutes <= 0 {
		return nil
	}
	tf := int64(timeframeMinutes) * 60
	offset := int64(offsetMinutes) * 60

	var out []Bar // oldest first while building
	var lastBucket int64
	for i := len(subbars) - 1; i >= 0; i-- {
		sb := subbars[i]
		ts := sb.Time.Unix()
		bucket := floorDiv(ts-offset, tf)*tf + offset

		if len(out) == 0 || bucket != lastBucket {
			if len(out) > 0 && bucket < lastBucket {
				// out of order duplicate, ignore
				continue
			}
			out = append(out, Bar{
				Time:   time.Unix(bucket, 0),
				Open:   sb.Open,
				High:   sb.High,
				Low:    sb.Low,
				Close:  sb.Close,
				Volume: sb.Volume,
			})
			lastBucket = bucket
			continue
		}

		cur := &out[len(out)-1]
		cur.High = math.Max(cur.High, sb.High)
		cur.Low = math.Min(cur.Low, sb.Low)
		cur.Close = sb.Close
		cur.Volume += sb.Volume
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
