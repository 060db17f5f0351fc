package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingRecorder struct {
	started  []string
	finished []string
	rejected []string
}

func (r *recordingRecorder) ExecutionStarted(_ context.Context, id string, _ time.Time) {
	r.started = append(r.started, id)
}

func (r *recordingRecorder) ExecutionFinished(_ context.Context, id string, category string, _ time.Duration) {
	r.finished = append(r.finished, id+":"+category)
}

func (r *recordingRecorder) ExecutionRejected(_ context.Context, category string) {
	r.rejected = append(r.rejected, category)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingRecorder{}, &recordingRecorder{}
	m := Multi{a, nil, Nop{}, Log{}, b}

	m.ExecutionStarted(context.Background(), "e1", time.Now())
	m.ExecutionFinished(context.Background(), "e1", "timeout", time.Second)
	m.ExecutionRejected(context.Background(), "rate_limited")

	for _, r := range []*recordingRecorder{a, b} {
		assert.Equal(t, []string{"e1"}, r.started)
		assert.Equal(t, []string{"e1:timeout"}, r.finished)
		assert.Equal(t, []string{"rate_limited"}, r.rejected)
	}
}
