// -----------------------------------------------------------------------
// AI confidence parser - extracts a "confidence Y/10" statement from free
// AI text in Chinese or English, tolerating full-width punctuation
// -----------------------------------------------------------------------

package scoring

import (
	"regexp"
	"strconv"
	"strings"
)

// Patterns are tried in order; within a pattern the first parseable match
// wins. The numeric group tolerates full-width digits (０-９), an optional
// decimal fraction, and any common minus glyph.
var confidencePatterns = []*regexp.Regexp{
	// Chinese: "信心8/10", "信心：8/10", "信心 8/10"
	regexp.MustCompile(`信心[：:\s]*([\-−－]?[0-9０-９]+(?:\.[0-9０-９]+)?)[/／]?(?:10|１０)?`),
	// English: "confidence 7.5/10", "confidence: 7.5/10"
	regexp.MustCompile(`(?i)confidence[：:\s]*([\-−－]?[0-9０-９]+(?:\.[0-9０-９]+)?)[/／]?(?:10|１０)?`),
	// Parenthesized: "（信心8/10）", "(confidence 8)"
	regexp.MustCompile(`[（(]信心[：:\s]*([\-−－]?[0-9０-９]+(?:\.[0-9０-９]+)?)[/／]?(?:10|１０)?[）)]`),
	regexp.MustCompile(`(?i)[（(]confidence[：:\s]*([\-−－]?[0-9０-９]+(?:\.[0-9０-９]+)?)[/／]?(?:10|１０)?[）)]`),
	// Keyword followed later by "Y/10"
	regexp.MustCompile(`(?i)(?:信心|confidence)[^0-9０-９]*([\-−－]?[0-9０-９]+(?:\.[0-9０-９]+)?)[/／](?:10|１０)`),
}

var digitNormalizer = strings.NewReplacer(
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
	"－", "-", "−", "-",
)

// ParseConfidence scans AI output for a confidence statement and returns
// the clamped value plus the raw matched fragment. No match, or a numeric
// token that does not parse, returns (nil, ""): absence is not zero.
func ParseConfidence(text string) (*float64, string) {
	if text == "" {
		return nil, ""
	}

	for _, pattern := range confidencePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			raw := match[0]
			token := digitNormalizer.Replace(match[1])

			value, err := strconv.ParseFloat(token, 64)
			if err != nil {
				continue
			}

			value = clamp(value)
			return &value, raw
		}
	}

	return nil, ""
}
