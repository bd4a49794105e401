package aggregate

import "time"

// bucketStart returns the first day of the bucket containing t, at
// midnight in t's location.
func bucketStart(t time.Time, b Bucket, weekStart time.Weekday) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch b {
	case BucketDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case BucketWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		off := (int(day.Weekday()) - int(weekStart) + 7) % 7
		return day.AddDate(0, 0, -off)
	case BucketMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case BucketYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Time{}
	}
}

func nextBucket(t time.Time, b Bucket) time.Time {
	switch b {
	case BucketDay:
		return t.AddDate(0, 0, 1)
	case BucketWeek:
		return t.AddDate(0, 0, 7)
	case BucketMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(1, 0, 0)
	}
}

func bucketLabel(t time.Time, b Bucket) string {
	switch b {
	case BucketMonth:
		return t.Format("2006-01")
	case BucketYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// dateKey orders calendar days independently of location.
func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// inLoc returns midnight of t's calendar day in loc.
func inLoc(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func monthEnd(t time.Time) time.Time {
	return monthStart(t).AddDate(0, 1, -1)
}
