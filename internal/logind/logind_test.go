package logind

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockSuspender is a mock implementation of Suspender
type MockSuspender struct {
	mock.Mock
}

var _ Suspender = (*MockSuspender)(nil)

func (m *MockSuspender) PrepareSuspend(ctx context.Context) error {
	args := m.Called(mock.Anything)
	return args.Error(0)
}

func (m *MockSuspender) Resume(ctx context.Context) error {
	args := m.Called(mock.Anything)
	return args.Error(0)
}

type fakeLock struct{ closed *int }

func (l fakeLock) Close() error {
	*l.closed++
	return nil
}

func newTestWatcher(s Suspender) (*Watcher, *int, *int) {
	taken, closed := 0, 0
	w := NewWatcher(s, func() (io.Closer, error) {
		taken++
		return fakeLock{closed: &closed}, nil
	})
	w.takeLock()
	return w, &taken, &closed
}

func TestSleepCycle(t *testing.T) {
	s := &MockSuspender{}
	s.On("PrepareSuspend", mock.Anything).Return(nil).Once()
	s.On("Resume", mock.Anything).Return(nil).Once()
	w, taken, closed := newTestWatcher(s)

	w.Handle(true)
	assert.Equal(t, 1, *closed, "lock released once host sleep is armed")
	w.Handle(false)
	assert.Equal(t, 2, *taken, "lock retaken after resume")
	s.AssertExpectations(t)
}

func TestRefusedSuspendStillReleasesLock(t *testing.T) {
	s := &MockSuspender{}
	s.On("PrepareSuspend", mock.Anything).Return(errors.New("suspend refused"))
	w, _, closed := newTestWatcher(s)

	w.Handle(true)
	assert.Equal(t, 1, *closed)
	assert.Nil(t, w.lock)
	s.AssertNotCalled(t, "Resume", mock.Anything)
}

func TestInhibitFailure(t *testing.T) {
	s := &MockSuspender{}
	s.On("PrepareSuspend", mock.Anything).Return(nil)
	s.On("Resume", mock.Anything).Return(nil)
	w := NewWatcher(s, func() (io.Closer, error) { return nil, errors.New("no logind") })
	w.takeLock()
	w.Handle(true)
	w.Handle(false)
	s.AssertNumberOfCalls(t, "PrepareSuspend", 1)
	s.AssertNumberOfCalls(t, "Resume", 1)
}
