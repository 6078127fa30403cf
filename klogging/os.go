package klogging

import "os"

var (
	currentOsProvider = NewSystemOsProvider()
)

// OsProvider wraps os.Exit so Fatal-level logging can be tested without
// killing the test process.
type OsProvider interface {
	Exit(code int)
}

// OsExit is what Fatal calls after emitting its entry.
func OsExit(code int) {
	currentOsProvider.Exit(code)
}

type SystemOsProvider struct {
}

func NewSystemOsProvider() OsProvider {
	return &SystemOsProvider{}
}

func (provider *SystemOsProvider) Exit(code int) {
	os.Exit(code)
}

// MockOsProvider routes Exit to a callback. ExitCb must be set before any
// Fatal path runs.
type MockOsProvider struct {
	ExitCb func(code int)
}

func NewMockOsProvider() *MockOsProvider {
	return &MockOsProvider{}
}

func (provider *MockOsProvider) SetAsDefault() *MockOsProvider {
	currentOsProvider = provider
	return provider
}

func (provider *MockOsProvider) Exit(code int) {
	provider.ExitCb(code)
}
