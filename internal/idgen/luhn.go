package idgen

// CheckDigit returns the mod-10 check digit that makes payload followed by that digit Luhn valid.
// payload must contain only ASCII digits.
func CheckDigit(payload string) int {
	sum := 0
	// With a trailing check digit appended, the rightmost payload digit sits at an even position.
	double := true
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}

// ValidLuhn reports whether number is a non-empty digit string passing the mod-10 check.
func ValidLuhn(number string) bool {
	if len(number) < 2 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
