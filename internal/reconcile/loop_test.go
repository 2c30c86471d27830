package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vicaadrn/web-scanner-project/internal/model"
	"github.com/Vicaadrn/web-scanner-project/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	states []model.ScanState
}

func (r *recorder) record(s model.ScanState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func TestLoop_StopsOnTerminal(t *testing.T) {
	rec := &recorder{}
	discarded := 0
	l := &Loop{Timeout: time.Second, ResultGrace: -1, OnChange: rec.record,
		OnDiscard: func(model.PhaseEvent) { discarded++ }, Logger: &testutil.DummyLogger{}}

	events := make(chan model.PhaseEvent, 8)
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhaseDiscovering, Progress: 10}
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhasePending}
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhaseFinished}
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhaseErrored}

	final := l.Run(context.Background(), pending("j1"), events)

	assert.Equal(t, model.PhaseFinished, final.Phase)
	assert.Equal(t, 1, discarded)
	require.Len(t, rec.states, 2)
	assert.Equal(t, model.PhaseDiscovering, rec.states[0].Phase)
	assert.Len(t, events, 1, "events after the terminal one are not consumed")
}

func TestLoop_TimesOutWithoutActivity(t *testing.T) {
	rec := &recorder{}
	l := &Loop{Timeout: 30 * time.Millisecond, OnChange: rec.record}

	final := l.Run(context.Background(), pending("j1"), make(chan model.PhaseEvent))

	assert.Equal(t, model.PhaseErrored, final.Phase)
	assert.Equal(t, model.ReasonTimeout, final.Reason)
	assert.Equal(t, model.ErrTimeout.Error(), final.Error)
	require.Len(t, rec.states, 1)
}

func TestLoop_DiscardedEventsResetTimer(t *testing.T) {
	l := &Loop{Timeout: 80 * time.Millisecond}
	events := make(chan model.PhaseEvent)
	s := pending("j1")
	s.Phase = model.PhaseAnalyzing

	done := make(chan model.ScanState, 1)
	start := time.Now()
	go func() { done <- l.Run(context.Background(), s, events) }()

	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		events <- model.PhaseEvent{JobID: "j1", Phase: model.PhasePending}
	}
	final := <-done
	assert.Equal(t, model.ReasonTimeout, final.Reason)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestLoop_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{Timeout: time.Minute}
	done := make(chan model.ScanState, 1)
	go func() { done <- l.Run(ctx, pending("j1"), make(chan model.PhaseEvent)) }()
	cancel()

	select {
	case final := <-done:
		assert.Equal(t, model.PhasePending, final.Phase)
		assert.True(t, errors.Is(ctx.Err(), context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestLoop_AlreadyTerminal(t *testing.T) {
	s := pending("j1")
	s.Phase = model.PhaseFinished
	l := &Loop{Timeout: time.Millisecond}
	assert.Equal(t, s, l.Run(context.Background(), s, nil))
}

func TestLoop_ClosedChannelStillTimesOut(t *testing.T) {
	events := make(chan model.PhaseEvent)
	close(events)
	l := &Loop{Timeout: 20 * time.Millisecond}
	final := l.Run(context.Background(), pending("j1"), events)
	assert.Equal(t, model.ReasonTimeout, final.Reason)
}

const oneHighFinding = `{"data":{"vulnerabilities":[{"template-id":"exposed-env","info":{"name":"Environment File Exposure","severity":"high"}}]}}`

func TestLoop_LateResultAfterBareFinish(t *testing.T) {
	rec := &recorder{}
	l := &Loop{Timeout: time.Second, ResultGrace: time.Second, OnChange: rec.record}

	events := make(chan model.PhaseEvent, 4)
	events <- model.PhaseEvent{JobID: "j1", Source: model.SourcePush, Phase: model.PhaseFinished}
	events <- model.PhaseEvent{JobID: "j1", Source: model.SourcePoll, Phase: model.PhaseFinished,
		Progress: 100, Result: []byte(oneHighFinding)}

	final := l.Run(context.Background(), pending("j1"), events)

	assert.Equal(t, model.PhaseFinished, final.Phase)
	require.NotNil(t, final.Result)
	require.Len(t, final.Result.Vulnerabilities, 1)
	assert.Equal(t, 1, final.Result.Counts.High)
	assert.Empty(t, events)
	require.Len(t, rec.states, 2)
	assert.Nil(t, rec.states[0].Result)
}

func TestLoop_ResultGraceExpires(t *testing.T) {
	l := &Loop{Timeout: time.Second, ResultGrace: 40 * time.Millisecond}
	events := make(chan model.PhaseEvent, 1)
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhaseFinished}

	start := time.Now()
	final := l.Run(context.Background(), pending("j1"), events)

	assert.Equal(t, model.PhaseFinished, final.Phase)
	assert.Nil(t, final.Result)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLoop_NoGraceForErrors(t *testing.T) {
	l := &Loop{Timeout: time.Second, ResultGrace: time.Minute}
	events := make(chan model.PhaseEvent, 2)
	events <- model.PhaseEvent{JobID: "j1", Phase: model.PhaseErrored, Error: "boom"}

	done := make(chan model.ScanState, 1)
	go func() { done <- l.Run(context.Background(), pending("j1"), events) }()
	select {
	case final := <-done:
		assert.Equal(t, model.PhaseErrored, final.Phase)
	case <-time.After(time.Second):
		t.Fatal("errored session waited for a result")
	}
}
