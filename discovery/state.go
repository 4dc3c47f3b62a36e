// Package discovery implements the aid discovery pipeline (Search, Verify,
// Prioritize) on top of the durable graph engine, including the SAI
// confirmation gate and the error-containment node.
package discovery

import (
	"fmt"
	"strings"
	"time"
)

// Node names of the discovery graph.
const (
	NodeSearch     = "Search"
	NodeVerify     = "Verify"
	NodePrioritize = "Prioritize"
	NodeSaiConfirm = "SaiConfirm"
	NodeRecovery   = "Recovery"
)

// Run flags stored with the checkpoint.
const (
	FlagSensitiveBandMode = "sensitive_band_mode"
	FlagScheduled         = "scheduled"
)

// Message roles.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// WorkflowState is the accumulated data of one thread. Each JSON field has
// exactly one entry in the reducer table (see Merge).
type WorkflowState struct {
	UserProfile      *UserProfile      `json:"user_profile,omitempty"`
	FinancialProfile *FinancialProfile `json:"financial_profile,omitempty"`

	DiscoveryResults []Result    `json:"discovery_results"`
	ActiveMilestones []Milestone `json:"active_milestones"`

	// Append-only.
	Messages []Message    `json:"messages"`
	ErrorLog []ErrorEntry `json:"error_log"`

	LastActiveNode string `json:"last_active_node"`

	PendingConfirmation bool `json:"pending_confirmation"`

	// SAIRangeApproved is nil until the user answers the confirmation
	// prompt. Once set it is never changed.
	SAIRangeApproved *bool `json:"sai_range_approved,omitempty"`
}

// UserProfile describes the student. Name, Email and Address never leave
// the process: Anonymize drops them before any search call.
type UserProfile struct {
	UserID    string   `json:"user_id" yaml:"user_id"`
	Name      string   `json:"name,omitempty" yaml:"name"`
	Email     string   `json:"email,omitempty" yaml:"email"`
	Address   string   `json:"address,omitempty" yaml:"address"`
	State     string   `json:"state" yaml:"state"`
	Level     string   `json:"level" yaml:"level"`
	Major     string   `json:"major,omitempty" yaml:"major"`
	GPA       float64  `json:"gpa,omitempty" yaml:"gpa"`
	Interests []string `json:"interests,omitempty" yaml:"interests"`
}

// FinancialProfile holds the student's financial data. SAI is the Student
// Aid Index; it is sensitive and only its band is ever shared.
type FinancialProfile struct {
	SAI           *int `json:"sai,omitempty" yaml:"sai"`
	HouseholdSize int  `json:"household_size,omitempty" yaml:"household_size"`
	PellEligible  bool `json:"pell_eligible,omitempty" yaml:"pell_eligible"`
	FirstGen      bool `json:"first_gen,omitempty" yaml:"first_gen"`
}

// HasSAI reports whether the profile carries an SAI value.
func (f *FinancialProfile) HasSAI() bool {
	return f != nil && f.SAI != nil
}

// Result is one discovered aid opportunity. The score fields are filled in
// by Verify.
type Result struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Provider    string     `json:"provider,omitempty"`
	URL         string     `json:"url,omitempty"`
	Amount      float64    `json:"amount,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`

	TrustScore  float64 `json:"trust_score,omitempty"`
	TrustReport string  `json:"trust_report,omitempty"`
	NeedMatch   float64 `json:"need_match,omitempty"`
	Verified    bool    `json:"verified,omitempty"`
}

// Milestone is one ranked entry of the user's action plan.
type Milestone struct {
	Rank     int        `json:"rank"`
	ResultID string     `json:"result_id"`
	Title    string     `json:"title"`
	Score    float64    `json:"score"`
	Deadline *time.Time `json:"deadline,omitempty"`
	Action   string     `json:"action"`
}

// Message is a user-facing conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Node    string `json:"node,omitempty"`
}

// ErrorEntry records one node fault.
type ErrorEntry struct {
	Node      string    `json:"node"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ThreadID derives the thread identifier for a user.
func ThreadID(userID string) string {
	return "user_" + userID
}

// Validate checks that the profiles carry what a run needs.
// The returned error wraps ErrIncompleteProfile.
func Validate(user *UserProfile, fin *FinancialProfile) error {
	if user == nil {
		return fmt.Errorf("%w: user profile is missing", ErrIncompleteProfile)
	}
	if fin == nil {
		return fmt.Errorf("%w: financial profile is missing", ErrIncompleteProfile)
	}

	var missing []string
	if user.UserID == "" {
		missing = append(missing, "user_id")
	}
	if user.State == "" {
		missing = append(missing, "state")
	}
	if user.Level == "" {
		missing = append(missing, "level")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteProfile, strings.Join(missing, ", "))
	}
	return nil
}

// SAIBand maps an SAI to the coarse range that may be shared with search
// backends.
func SAIBand(sai int) string {
	switch {
	case sai <= 0:
		return "0 or below"
	case sai >= 30000:
		return "30000+"
	default:
		low := (sai / 5000) * 5000
		return fmt.Sprintf("%d-%d", low, low+4999)
	}
}
