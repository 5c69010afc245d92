package extract

import (
	"strings"
	"unicode"
)

const (
	minGoodLength = 100
	minGoodWords  = 20

	// minLetterRatio guards against PDFs that decode to coordinate soup
	minLetterRatio = 0.3
)

// scoreQuality applies the fail-fast text quality gates: enough characters,
// enough words, and a letter ratio that rules out binary junk.
func scoreQuality(text string) string {
	if len(text) < minGoodLength {
		return QualityPoor
	}

	var letters, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 || float64(letters)/float64(total) < minLetterRatio {
		return QualityPoor
	}

	if len(strings.Fields(text)) < minGoodWords {
		return QualityPoor
	}

	return QualityGood
}
