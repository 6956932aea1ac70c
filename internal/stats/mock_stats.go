package stats

import "github.com/stretchr/testify/mock"

var (
	_ StatsProvider = (*StatsUpdater)(nil)
	_ StatsProvider = (*MockStatsUpdater)(nil)
)

// MockStatsUpdater records metric updates so tests can assert on them.
type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) Decr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }
func (m *MockStatsUpdater) Run()                       { m.Called() }
