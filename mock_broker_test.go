package queueflow_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Benrobo/queueflow"
)

// MockBroker is a mock implementation of queueflow.Broker
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Enqueue(ctx context.Context, job *queueflow.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockBroker) Claim(ctx context.Context, queue, owner string, lease time.Duration) (*queueflow.Job, error) {
	args := m.Called(ctx, queue, owner, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queueflow.Job), args.Error(1)
}

func (m *MockBroker) Complete(ctx context.Context, queue, jobID string) error {
	args := m.Called(ctx, queue, jobID)
	return args.Error(0)
}

func (m *MockBroker) Fail(ctx context.Context, queue, jobID, reason string) error {
	args := m.Called(ctx, queue, jobID, reason)
	return args.Error(0)
}

func (m *MockBroker) ListRepeatables(ctx context.Context, queue string) ([]queueflow.RepeatableJob, error) {
	args := m.Called(ctx, queue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queueflow.RepeatableJob), args.Error(1)
}

func (m *MockBroker) RemoveRepeatable(ctx context.Context, queue, key string) error {
	args := m.Called(ctx, queue, key)
	return args.Error(0)
}

func (m *MockBroker) AddRepeatable(ctx context.Context, queue string, job queueflow.RepeatableJob) error {
	args := m.Called(ctx, queue, job)
	return args.Error(0)
}

func (m *MockBroker) Close() error {
	args := m.Called()
	return args.Error(0)
}

// testConfig returns a config tuned for fast polling in tests.
func testConfig() queueflow.Config {
	return queueflow.Config{
		DefaultQueue:       "default",
		PollInterval:       10 * time.Millisecond,
		LeaseTimeout:       time.Minute,
		ShutdownTimeout:    5 * time.Second,
		DefaultConcurrency: 5,
		DefaultMaxAttempts: 3,
	}
}

// newTestEngine builds an engine over a fresh memory broker.
func newTestEngine(t interface{ Fatalf(string, ...any) }) (*queueflow.Engine, *queueflow.MemoryBroker) {
	mb := queueflow.NewMemoryBroker()
	engine, err := queueflow.New(queueflow.StaticBroker(mb),
		queueflow.WithConfig(testConfig()),
	)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine, mb
}
