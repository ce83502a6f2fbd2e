package rules

import "strconv"

func itoa(n int) string {
	return strconv.Itoa(n)
}

func bandPattern(b CodeBand) string {
	if b.Min == b.Max {
		return "code=" + itoa(b.Min)
	}
	return "code=" + itoa(b.Min) + "-" + itoa(b.Max)
}
