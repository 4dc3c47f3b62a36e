// Package scoring provides small rule-based defaults for the discovery
// trust and need-match collaborators.
package scoring

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dshills/aidgraph/discovery"
)

// scamMarkers force a trust score of zero.
var scamMarkers = []string{
	"application fee",
	"processing fee",
	"pay to apply",
	"guaranteed scholarship",
	"guaranteed award",
	"credit card",
	"wire transfer",
	"you have been selected",
}

// KeywordTrust rates results from listing text and source signals.
type KeywordTrust struct{}

// Score implements discovery.TrustScorer.
func (KeywordTrust) Score(_ context.Context, r discovery.Result) (discovery.TrustReport, error) {
	text := strings.ToLower(r.Title + " " + r.Description + " " + strings.Join(r.Tags, " "))
	for _, marker := range scamMarkers {
		if strings.Contains(text, marker) {
			return discovery.TrustReport{Score: 0, Report: "excluded: listing mentions " + marker}, nil
		}
	}

	score := 0.5
	var reasons []string
	if r.URL != "" {
		u, err := url.Parse(r.URL)
		if err == nil {
			host := strings.ToLower(u.Hostname())
			switch {
			case strings.HasSuffix(host, ".gov"):
				score += 0.4
				reasons = append(reasons, "government source")
			case strings.HasSuffix(host, ".edu"):
				score += 0.3
				reasons = append(reasons, "institution source")
			case strings.HasSuffix(host, ".org"):
				score += 0.1
				reasons = append(reasons, "non-profit source")
			}
			if u.Scheme == "https" {
				score += 0.05
			}
		}
	} else {
		score -= 0.2
		reasons = append(reasons, "no source link")
	}
	if r.Provider != "" {
		score += 0.05
	}
	if r.Deadline != nil {
		score += 0.05
	}

	score = clamp(score, 0.05, 1)
	report := fmt.Sprintf("trust %.2f", score)
	if len(reasons) > 0 {
		report += ": " + strings.Join(reasons, ", ")
	}
	return discovery.TrustReport{Score: score, Report: report}, nil
}

// ProfileMatch scores how well a result fits the student by overlap of
// tags and description with the profile.
type ProfileMatch struct{}

// Score implements discovery.NeedMatchScorer.
func (ProfileMatch) Score(_ context.Context, user discovery.UserProfile, fin discovery.FinancialProfile, r discovery.Result) (float64, error) {
	text := strings.ToLower(r.Title + " " + r.Description + " " + strings.Join(r.Tags, " "))

	score := 0.3
	if user.State != "" && containsWord(text, strings.ToLower(user.State)) {
		score += 0.15
	}
	if user.Level != "" && strings.Contains(text, strings.ReplaceAll(strings.ToLower(user.Level), "_", " ")) {
		score += 0.15
	}
	if user.Major != "" && strings.Contains(text, strings.ToLower(user.Major)) {
		score += 0.2
	}
	for _, interest := range user.Interests {
		if interest != "" && strings.Contains(text, strings.ToLower(interest)) {
			score += 0.05
		}
	}
	needBased := strings.Contains(text, "need-based") || strings.Contains(text, "pell")
	if needBased && (fin.PellEligible || fin.HasSAI() && *fin.SAI < 7000) {
		score += 0.2
	}
	if fin.FirstGen && strings.Contains(text, "first-generation") {
		score += 0.1
	}
	return clamp(score, 0, 1), nil
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
