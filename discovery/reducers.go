package discovery

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// Update is a partial WorkflowState. A nil field leaves the state field
// untouched, so an explicit empty list (a non-nil pointer to an empty slice)
// is distinct from "not set".
type Update struct {
	UserProfile      *UserProfile      `json:"user_profile,omitempty"`
	FinancialProfile *FinancialProfile `json:"financial_profile,omitempty"`

	DiscoveryResults *[]Result    `json:"discovery_results,omitempty"`
	ActiveMilestones *[]Milestone `json:"active_milestones,omitempty"`

	Messages []Message    `json:"messages,omitempty"`
	ErrorLog []ErrorEntry `json:"error_log,omitempty"`

	LastActiveNode *string `json:"last_active_node,omitempty"`

	PendingConfirmation *bool `json:"pending_confirmation,omitempty"`
	SAIRangeApproved    *bool `json:"sai_range_approved,omitempty"`
}

// fieldReducer merges one field of u into s.
type fieldReducer func(s *WorkflowState, u Update) error

// reducers is the merge table, keyed by JSON field name. Every field of
// WorkflowState and Update has exactly one entry; init enforces it.
var reducers = map[string]fieldReducer{
	"user_profile": func(s *WorkflowState, u Update) error {
		if u.UserProfile != nil {
			p := *u.UserProfile
			p.Interests = slices.Clone(p.Interests)
			s.UserProfile = &p
		}
		return nil
	},
	"financial_profile": func(s *WorkflowState, u Update) error {
		if u.FinancialProfile != nil {
			f := *u.FinancialProfile
			if f.SAI != nil {
				sai := *f.SAI
				f.SAI = &sai
			}
			s.FinancialProfile = &f
		}
		return nil
	},
	"discovery_results": func(s *WorkflowState, u Update) error {
		if u.DiscoveryResults != nil {
			s.DiscoveryResults = append([]Result{}, *u.DiscoveryResults...)
		}
		return nil
	},
	"active_milestones": func(s *WorkflowState, u Update) error {
		if u.ActiveMilestones != nil {
			s.ActiveMilestones = append([]Milestone{}, *u.ActiveMilestones...)
		}
		return nil
	},
	"messages": func(s *WorkflowState, u Update) error {
		if len(u.Messages) > 0 {
			s.Messages = slices.Concat(s.Messages, u.Messages)
		}
		return nil
	},
	"error_log": func(s *WorkflowState, u Update) error {
		if len(u.ErrorLog) > 0 {
			s.ErrorLog = slices.Concat(s.ErrorLog, u.ErrorLog)
		}
		return nil
	},
	"last_active_node": func(s *WorkflowState, u Update) error {
		if u.LastActiveNode != nil {
			s.LastActiveNode = *u.LastActiveNode
		}
		return nil
	},
	"pending_confirmation": func(s *WorkflowState, u Update) error {
		if u.PendingConfirmation != nil {
			s.PendingConfirmation = *u.PendingConfirmation
		}
		return nil
	},
	"sai_range_approved": func(s *WorkflowState, u Update) error {
		if u.SAIRangeApproved == nil {
			return nil
		}
		if s.SAIRangeApproved != nil {
			return ErrApprovalAlreadySet
		}
		approved := *u.SAIRangeApproved
		s.SAIRangeApproved = &approved
		return nil
	},
}

// reducerOrder fixes the order fields are merged in.
var reducerOrder = sortedKeys(reducers)

func init() {
	if err := checkReducerTable(); err != nil {
		panic(err)
	}
}

// Merge applies u to prev field by field. It never modifies prev and either
// applies the whole update or returns an error.
func Merge(prev WorkflowState, u Update) (WorkflowState, error) {
	next := prev
	for _, field := range reducerOrder {
		if err := reducers[field](&next, u); err != nil {
			return prev, fmt.Errorf("merge %s: %w", field, err)
		}
	}
	return next, nil
}

// checkReducerTable verifies the table covers exactly the JSON fields of
// WorkflowState and Update.
func checkReducerTable() error {
	for _, t := range []reflect.Type{reflect.TypeOf(WorkflowState{}), reflect.TypeOf(Update{})} {
		fields := jsonFields(t)
		var missing, extra []string
		for name := range fields {
			if _, ok := reducers[name]; !ok {
				missing = append(missing, name)
			}
		}
		for name := range reducers {
			if _, ok := fields[name]; !ok {
				extra = append(extra, name)
			}
		}
		if len(missing) > 0 || len(extra) > 0 {
			sort.Strings(missing)
			sort.Strings(extra)
			return fmt.Errorf("discovery: reducer table does not match %s: missing [%s] extra [%s]",
				t.Name(), strings.Join(missing, ", "), strings.Join(extra, ", "))
		}
	}
	return nil
}

func jsonFields(t reflect.Type) map[string]struct{} {
	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = struct{}{}
	}
	return fields
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptr[T any](v T) *T {
	return &v
}
