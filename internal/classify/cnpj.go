package classify

import "regexp"

var nonDigitRe = regexp.MustCompile(`[^\d]`)

// ValidCNPJ validates a CNPJ by its two check digits. Formatting
// characters are stripped first; anything that does not reduce to 14
// digits fails, as does the degenerate all-same-digit form.
func ValidCNPJ(cnpj string) bool {
	digits := nonDigitRe.ReplaceAllString(cnpj, "")
	if len(digits) != 14 {
		return false
	}

	allSame := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	if int(digits[12]-'0') != cnpjCheckDigit(digits, 11) {
		return false
	}
	return int(digits[13]-'0') == cnpjCheckDigit(digits, 12)
}

// cnpjCheckDigit computes the check digit over digits[0..last] using
// the standard weight cycle 2..9 applied right to left.
func cnpjCheckDigit(digits string, last int) int {
	sum := 0
	weight := 2
	for i := last; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	if sum%11 < 2 {
		return 0
	}
	return 11 - sum%11
}
