package caption

import (
	"context"
	"sync/atomic"
)

// MockCaptioner is a canned-response captioner for tests.
type MockCaptioner struct {
	Response string
	Err      error
	calls    atomic.Int64
}

var _ Captioner = (*MockCaptioner)(nil)

// NewMockCaptioner returns a captioner that always produces response.
func NewMockCaptioner(response string) *MockCaptioner {
	return &MockCaptioner{Response: response}
}

// Name returns "mock".
func (m *MockCaptioner) Name() string { return "mock" }

// Caption returns the canned response or error.
func (m *MockCaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Calls returns how many times Caption was invoked.
func (m *MockCaptioner) Calls() int64 {
	return m.calls.Load()
}
