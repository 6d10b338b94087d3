// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"math"
	"strings"
	"unicode"
)

// Anomaly thresholds for statistical input scoring.
const (
	// lowEntropyThreshold flags long text with very little character
	// variety (e.g. flooding with one repeated token).
	lowEntropyThreshold = 2.0

	// lowEntropyMinLength is the minimum length before low entropy is
	// considered suspicious; short strings are naturally low-entropy.
	lowEntropyMinLength = 50

	// maxInputLength flags excessively long inputs.
	maxInputLength = 10000

	// specialCharRatioThreshold flags inputs dominated by symbols.
	specialCharRatioThreshold = 0.3

	// repeatedPrefixMinCount flags a prefix repeated more than this
	// many times across the input.
	repeatedPrefixMinCount = 5
)

// repeatedPrefixLengths are the prefix sizes probed for repetition.
var repeatedPrefixLengths = []int{10, 20, 50}

// anomalyScorer applies deterministic statistical heuristics to input
// text. It is stateless and safe for concurrent use.
type anomalyScorer struct{}

// score returns the names of all anomalies found in the text.
func (anomalyScorer) score(text string) []string {
	var anomalies []string

	if len(text) > lowEntropyMinLength && shannonEntropy(text) < lowEntropyThreshold {
		anomalies = append(anomalies, "low_entropy")
	}
	if len(text) > maxInputLength {
		anomalies = append(anomalies, "excessive_length")
	}
	if specialCharRatio(text) > specialCharRatioThreshold {
		anomalies = append(anomalies, "high_special_char_ratio")
	}
	if hasRepeatedPrefix(text) {
		anomalies = append(anomalies, "repeated_content")
	}

	return anomalies
}

// shannonEntropy calculates Shannon entropy of the character
// distribution. Higher entropy indicates more randomness.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	var entropy float64
	length := float64(total)
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// specialCharRatio returns the fraction of runes that are neither
// letters, digits, nor whitespace.
func specialCharRatio(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	special := 0
	total := 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	return float64(special) / float64(total)
}

// hasRepeatedPrefix reports whether a 10/20/50-character prefix of the
// text occurs more than repeatedPrefixMinCount times.
func hasRepeatedPrefix(s string) bool {
	for _, plen := range repeatedPrefixLengths {
		if len(s) < plen {
			break
		}
		prefix := s[:plen]
		if strings.Count(s, prefix) > repeatedPrefixMinCount {
			return true
		}
	}
	return false
}
