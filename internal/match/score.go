package match

import "strings"

// Score thresholds.
const (
	ScoreExact            = 100
	ScoreProjectPrefix    = 90
	ScoreCandidatePrefix  = 88
	ScoreTokenOverlap3    = 86
	ScoreContains         = 84
	ScoreTokenOverlap2    = 83
	ScoreTokenOverlap1    = 80
	MinAcceptScore        = 80
	HighConfidenceScore   = 90
	MinAmbiguityGap       = 5
	minPrefixLen          = 8
	minContainsLen        = 10
	minSharedTokensStrong = 3
)

// Score rates how well a normalized deal candidate matches a normalized
// project name. Prefix scores are asymmetric: a project name that
// extends the deal name is a stronger signal than the reverse.
func Score(candidate, projectName string) int {
	if candidate == "" || projectName == "" {
		return 0
	}
	switch {
	case candidate == projectName:
		return ScoreExact
	case len(candidate) >= minPrefixLen && strings.HasPrefix(projectName, candidate):
		return ScoreProjectPrefix
	case len(projectName) >= minPrefixLen && strings.HasPrefix(candidate, projectName):
		return ScoreCandidatePrefix
	case len(candidate) >= minContainsLen && strings.Contains(projectName, candidate):
		return ScoreContains
	}

	a, b := tokens(candidate), tokens(projectName)
	shared := 0
	for tok := range a {
		if b[tok] {
			shared++
		}
	}
	switch {
	case shared >= minSharedTokensStrong:
		return ScoreTokenOverlap3
	case shared == 2:
		return ScoreTokenOverlap2
	case shared == 1:
		return ScoreTokenOverlap1
	}
	return 0
}
