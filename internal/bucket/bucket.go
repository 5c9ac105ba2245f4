// Package bucket maps instants to recurring intraday clock intervals.
package bucket

import "time"

const (
	minutesPerDay = 24 * 60
	clockLayout   = "03:04 PM"
	separator     = "–"
)

// ValidWidth reports whether width is one of the supported bucket widths
func ValidWidth(width int) bool {
	return width == 15 || width == 30 || width == 60
}

// Start returns the local start of the width-aligned interval containing t.
// Alignment is measured in minutes from local midnight.
func Start(t time.Time, width int, loc *time.Location) time.Time {
	if width <= 0 {
		width = 60
	}
	local := t.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	startMinute := (minuteOfDay / width) * width

	y, m, d := local.Date()
	return time.Date(y, m, d, startMinute/60, startMinute%60, 0, 0, loc)
}

// Label returns the bucket label of t, e.g. "09:00 AM–10:00 AM"
func Label(t time.Time, width int, loc *time.Location) string {
	start := Start(t, width, loc)
	return format(start.Hour()*60+start.Minute(), width)
}

// DayLabels lists the labels partitioning one day in clock order
func DayLabels(width int) []string {
	if width <= 0 || minutesPerDay%width != 0 {
		return nil
	}
	labels := make([]string, 0, minutesPerDay/width)
	for m := 0; m < minutesPerDay; m += width {
		labels = append(labels, format(m, width))
	}
	return labels
}

// format builds the label from minute-of-day arithmetic so DST shifts cannot move the end
func format(startMinute, width int) string {
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	start := ref.Add(time.Duration(startMinute) * time.Minute)
	end := start.Add(time.Duration(width) * time.Minute)
	return start.Format(clockLayout) + separator + end.Format(clockLayout)
}

