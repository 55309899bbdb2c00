package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

func sampleRows() []types.Row {
	return []types.Row{
		{"id": "a", "title": "Fix login crash", "priority": int64(3), "done": false},
		{"id": "b", "title": "Write release notes", "priority": int64(1), "done": true},
		{"id": "c", "title": "Fix flaky test", "priority": int64(2), "done": false},
		{"id": "d", "title": "Ship it", "priority": int64(5), "done": true},
	}
}

// requireAgreement checks that HiddenRows equals exactly the set of
// indices for which IsRowVisible is false.
func requireAgreement(t *testing.T, m *Manager, n int) {
	t.Helper()
	hidden := m.HiddenRows()
	fromVector := []int{}
	for i := 0; i < n; i++ {
		if !m.IsRowVisible(i) {
			fromVector = append(fromVector, i)
		}
	}
	require.Equal(t, fromVector, hidden)
}

func TestNoFiltersEverythingVisible(t *testing.T) {
	m := NewManager(4)

	for i := 0; i < 4; i++ {
		assert.True(t, m.IsRowVisible(i))
	}
	assert.Empty(t, m.HiddenRows())
}

func TestContainsFilter(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	err := m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "fix"}, rows)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, m.HiddenRows())
	assert.True(t, m.IsRowVisible(0))
	assert.True(t, m.IsRowVisible(2))
	requireAgreement(t, m, len(rows))
}

func TestFiltersCombineWithAND(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	no := false
	require.NoError(t, m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "fix"}, rows))
	require.NoError(t, m.SetColumnFilter("done", types.FilterCondition{Kind: types.FilterBoolean, Bool: &no}, rows))

	// Only rows matching both predicates stay visible.
	assert.True(t, m.IsRowVisible(0))
	assert.True(t, m.IsRowVisible(2))
	assert.Equal(t, []int{1, 3}, m.HiddenRows())

	min := 3.0
	require.NoError(t, m.SetColumnFilter("priority", types.FilterCondition{Kind: types.FilterRange, Min: &min}, rows))
	assert.Equal(t, []int{1, 2, 3}, m.HiddenRows())
	requireAgreement(t, m, len(rows))
}

func TestClearColumnFilter(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	yes := true
	require.NoError(t, m.SetColumnFilter("done", types.FilterCondition{Kind: types.FilterBoolean, Bool: &yes}, rows))
	require.Equal(t, []int{0, 2}, m.HiddenRows())

	m.ClearColumnFilter("done", rows)
	assert.Empty(t, m.HiddenRows())

	// Clearing an inactive column changes nothing.
	m.ClearColumnFilter("title", rows)
	assert.Empty(t, m.HiddenRows())
	requireAgreement(t, m, len(rows))
}

func TestClearAll(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	require.NoError(t, m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "fix"}, rows))
	require.NotEmpty(t, m.HiddenRows())

	m.ClearAll(len(rows))
	assert.Empty(t, m.HiddenRows())
	for i := range rows {
		assert.True(t, m.IsRowVisible(i))
	}
}

func TestHiddenAgreementAcrossSequences(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	min, max := 1.0, 3.0
	steps := []func(){
		func() {
			m.SetColumnFilter("priority", types.FilterCondition{Kind: types.FilterRange, Min: &min, Max: &max}, rows)
		},
		func() {
			m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "w"}, rows)
		},
		func() { m.ClearColumnFilter("priority", rows) },
		func() {
			m.SetColumnFilter("id", types.FilterCondition{Kind: types.FilterOneOf, Values: []string{"a", "d"}}, rows)
		},
		func() { m.ClearColumnFilter("title", rows) },
	}

	for _, step := range steps {
		step()
		requireAgreement(t, m, len(rows))
	}
}

func TestInvalidConditionRejected(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	err := m.SetColumnFilter("title", types.FilterCondition{Kind: "glob"}, rows)
	assert.ErrorIs(t, err, types.ErrFilterKindUnknown)

	err = m.SetColumnFilter("priority", types.FilterCondition{Kind: types.FilterRange}, rows)
	assert.ErrorIs(t, err, types.ErrFilterRangeEmpty)

	// Rejected conditions leave visibility untouched.
	assert.Empty(t, m.HiddenRows())
}

func TestRecomputeAfterRowChange(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	require.NoError(t, m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "fix"}, rows))

	// An edit makes a hidden row match; recompute picks it up.
	rows[1]["title"] = "Fix release notes"
	m.Recompute(rows)
	assert.Equal(t, []int{3}, m.HiddenRows())

	// A shrunk row sequence shrinks the vector with it.
	m.Recompute(rows[:2])
	assert.Empty(t, m.HiddenRows())
	assert.False(t, m.IsRowVisible(2))
	requireAgreement(t, m, 2)
}

func TestEqualsMatchesNumericStrings(t *testing.T) {
	rows := []types.Row{
		{"priority": int64(5)},
		{"priority": "5"},
		{"priority": "five"},
	}
	m := NewManager(len(rows))

	require.NoError(t, m.SetColumnFilter("priority", types.FilterCondition{Kind: types.FilterEquals, Text: "5"}, rows))
	assert.Equal(t, []int{2}, m.HiddenRows())
}

func TestConditionsOrderedByColumn(t *testing.T) {
	rows := sampleRows()
	m := NewManager(len(rows))

	require.NoError(t, m.SetColumnFilter("title", types.FilterCondition{Kind: types.FilterContains, Text: "x"}, rows))
	require.NoError(t, m.SetColumnFilter("id", types.FilterCondition{Kind: types.FilterEquals, Text: "a"}, rows))

	conds := m.Conditions()
	require.Len(t, conds, 2)
	assert.Equal(t, "id", conds[0].Column)
	assert.Equal(t, "title", conds[1].Column)
}
