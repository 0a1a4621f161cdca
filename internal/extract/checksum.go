package extract

// Check-digit validators for Brazilian tax IDs. Both are pure functions
// over digit strings so they can be exercised independently of the
// extraction pipeline.

var (
	cnpjWeightsFirst  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeightsSecond = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ reports whether a 14-digit CNPJ string carries correct check
// digits. Input must be digits only (no punctuation). Repdigit strings
// (e.g. "00000000000000") pass the arithmetic but are rejected.
func ValidCNPJ(digits string) bool {
	if len(digits) != 14 || !allDigits(digits) || allSame(digits) {
		return false
	}
	d1 := checkDigit(digits[:12], cnpjWeightsFirst)
	d2 := checkDigit(digits[:13], cnpjWeightsSecond)
	return int(digits[12]-'0') == d1 && int(digits[13]-'0') == d2
}

// ValidCPF reports whether an 11-digit CPF string carries correct check
// digits. Input must be digits only. Repdigit strings are rejected.
func ValidCPF(digits string) bool {
	if len(digits) != 11 || !allDigits(digits) || allSame(digits) {
		return false
	}
	d1 := checkDigit(digits[:9], descendingWeights(10, 9))
	d2 := checkDigit(digits[:10], descendingWeights(11, 10))
	return int(digits[9]-'0') == d1 && int(digits[10]-'0') == d2
}

// checkDigit computes one check digit as a weighted modular sum: the
// remainder mod 11 maps to 0 when below 2, otherwise to 11 minus itself.
func checkDigit(digits string, weights []int) int {
	sum := 0
	for i := 0; i < len(weights); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

// descendingWeights builds the CPF weight sequence start, start-1, ...
// over n positions.
func descendingWeights(start, n int) []int {
	weights := make([]int, n)
	for i := range weights {
		weights[i] = start - i
	}
	return weights
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
