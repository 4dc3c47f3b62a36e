package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testProfiles() *fakeProfiles {
	sai := 4200
	return &fakeProfiles{
		users: map[string]UserProfile{
			"42": {
				UserID:    "42",
				Name:      "Ada Student",
				Email:     "ada@example.edu",
				Address:   "1 Main St",
				State:     "CA",
				Level:     "undergraduate",
				Major:     "Marine Biology",
				GPA:       3.7,
				Interests: []string{"oceans"},
			},
			"7": {UserID: "7", State: "TX", Level: "high_school"},
		},
		fins: map[string]FinancialProfile{
			"42": {SAI: &sai, HouseholdSize: 4, PellEligible: true},
			"7":  {HouseholdSize: 2},
		},
	}
}

func testResults() []Result {
	soon := testNow.AddDate(0, 0, 7)
	later := testNow.AddDate(0, 1, 0)
	return []Result{
		{ID: "r1", Title: "Coastal Science Grant", Amount: 2500, Deadline: &later},
		{ID: "r2", Title: "Guaranteed Scholarship (processing fee)", Amount: 10000},
		{ID: "r3", Title: "STEM Futures Award", Amount: 1000, Deadline: &soon},
	}
}

type fakeProfiles struct {
	users map[string]UserProfile
	fins  map[string]FinancialProfile
}

func (f *fakeProfiles) Load(_ context.Context, userID string) (UserProfile, FinancialProfile, error) {
	u, ok := f.users[userID]
	if !ok {
		return UserProfile{}, FinancialProfile{}, ErrUnknownUser
	}
	return u, f.fins[userID], nil
}

type fakeSearch struct {
	mu      sync.Mutex
	results []Result
	err     error
	panics  bool
	queries []Query
}

func (f *fakeSearch) Search(_ context.Context, q Query) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.panics {
		panic("search backend exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]Result(nil), f.results...), nil
}

func (f *fakeSearch) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeSearch) lastQuery() Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type fakeTrust struct {
	mu     sync.Mutex
	zero   map[string]bool
	err    error
	onCall func()
	n      int
}

func (f *fakeTrust) Score(_ context.Context, r Result) (TrustReport, error) {
	f.mu.Lock()
	f.n++
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.err != nil {
		return TrustReport{}, f.err
	}
	if f.zero[r.ID] {
		return TrustReport{Score: 0, Report: "charges an application fee"}, nil
	}
	return TrustReport{Score: 0.8, Report: "accredited provider"}, nil
}

func (f *fakeTrust) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeNeed struct {
	scores map[string]float64
	err    error
}

func (f *fakeNeed) Score(_ context.Context, _ UserProfile, _ FinancialProfile, r Result) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if s, ok := f.scores[r.ID]; ok {
		return s, nil
	}
	return 0.5, nil
}

type fakeSink struct {
	mu    sync.Mutex
	saved [][]Result
	err   error
}

func (f *fakeSink) SaveVerified(_ context.Context, _, _ string, results []Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, results)
	return nil
}

// fixture bundles a workflow with its fakes.
type fixture struct {
	wf     *Workflow
	store  store.Store[WorkflowState]
	search *fakeSearch
	trust  *fakeTrust
	need   *fakeNeed
	sink   *fakeSink
}

func newFixture(t *testing.T, st store.Store[WorkflowState]) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemStore[WorkflowState]()
	}
	f := &fixture{
		store:  st,
		search: &fakeSearch{results: testResults()},
		trust:  &fakeTrust{zero: map[string]bool{"r2": true}},
		need:   &fakeNeed{scores: map[string]float64{"r1": 0.9}},
		sink:   &fakeSink{},
	}
	wf, err := New(st, Dependencies{
		Profiles: testProfiles(),
		Search:   f.search,
		Trust:    f.trust,
		Need:     f.need,
		Sink:     f.sink,
		Now:      func() time.Time { return testNow },
	}, nil, graph.WithMaxSteps(20), graph.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	f.wf = wf
	return f
}

func (f *fixture) completedNodes(t *testing.T, threadID string) []string {
	t.Helper()
	history, err := f.wf.History(context.Background(), threadID)
	require.NoError(t, err)
	return store.CompletedNodes(history)
}
