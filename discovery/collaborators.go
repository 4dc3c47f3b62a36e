package discovery

import (
	"context"
	"slices"
)

// ProfileLoader loads a user's profiles.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (UserProfile, FinancialProfile, error)
}

// Query is the anonymized search request. It never carries the user's
// name, contact data or exact SAI.
type Query struct {
	State        string   `json:"state"`
	Level        string   `json:"level"`
	Major        string   `json:"major,omitempty"`
	GPA          float64  `json:"gpa,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	PellEligible bool     `json:"pell_eligible,omitempty"`
	FirstGen     bool     `json:"first_gen,omitempty"`

	// SAIBand is set only in sensitive-band mode after the user approved it.
	SAIBand string `json:"sai_band,omitempty"`

	// RunID attributes backend spend to a run. It is not sent.
	RunID string `json:"-"`
}

// SearchClient finds aid opportunities. Implementations own their retry
// policy; Search is called at most once per Search node execution.
type SearchClient interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// TrustReport is a trust score with its explanation. A score of zero marks
// a fee-charging or fraudulent listing.
type TrustReport struct {
	Score  float64
	Report string
}

// TrustScorer rates how trustworthy a result is.
type TrustScorer interface {
	Score(ctx context.Context, r Result) (TrustReport, error)
}

// NeedMatchScorer rates how well a result fits the student, in [0, 1].
type NeedMatchScorer interface {
	Score(ctx context.Context, user UserProfile, fin FinancialProfile, r Result) (float64, error)
}

// ResultSink persists verified results outside the checkpoint.
type ResultSink interface {
	SaveVerified(ctx context.Context, threadID, runID string, results []Result) error
}

// Anonymize builds the search query from the profiles. The SAI band is
// included only when includeBand is set and an SAI is present.
func Anonymize(user UserProfile, fin *FinancialProfile, includeBand bool) Query {
	q := Query{
		State:     user.State,
		Level:     user.Level,
		Major:     user.Major,
		GPA:       user.GPA,
		Interests: slices.Clone(user.Interests),
	}
	if fin != nil {
		q.PellEligible = fin.PellEligible
		q.FirstGen = fin.FirstGen
		if includeBand && fin.SAI != nil {
			q.SAIBand = SAIBand(*fin.SAI)
		}
	}
	return q
}
