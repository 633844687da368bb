package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/scalesync/internal/scale"
)

type published struct {
	topic    string
	payload  any
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, v, retained})
	return nil
}

func TestSyncPublisher_StateChanges(t *testing.T) {
	fake := &fakePublisher{}
	p := newSyncPublisher(fake, "run-1", nil)

	snap := scale.Snapshot{Address: "10.0.0.5", State: scale.StateDownloading, Cursor: 1, Total: 4}
	p.DeviceProgress(snap)
	p.DeviceProgress(snap) // unchanged, not republished
	snap.Cursor = 2
	p.DeviceProgress(snap)

	if len(fake.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(fake.msgs))
	}
	msg := fake.msgs[1]
	if msg.topic != "scalesync/scale/10.0.0.5/state" || !msg.retained {
		t.Errorf("message = %+v", msg)
	}
	state, ok := msg.payload.(ScaleState)
	if !ok {
		t.Fatalf("payload type = %T", msg.payload)
	}
	if state.Status != "50%" || state.Percent != 50 || state.State != "downloading" {
		t.Errorf("state = %+v", state)
	}
}

func TestSyncPublisher_TerminalStates(t *testing.T) {
	fake := &fakePublisher{}
	p := newSyncPublisher(fake, "run-1", nil)

	done := scale.Snapshot{Address: "10.0.0.5", State: scale.StateComplete, Cursor: 3, Total: 3}
	p.DeviceProgress(done)
	p.DeviceCompleted(done, 1500*time.Millisecond)
	p.DeviceFailed(scale.Snapshot{Address: "10.0.0.6", State: scale.StateError, Error: "scale: disconnected"})

	if len(fake.msgs) != 3 {
		t.Fatalf("published %d messages, want 3", len(fake.msgs))
	}
	if got := fake.msgs[1].payload.(ScaleState); got.ElapsedMs != 1500 || got.Status != "complete" {
		t.Errorf("completed payload = %+v", got)
	}
	if got := fake.msgs[2].payload.(ScaleState); got.Status != "error" || got.Error == "" {
		t.Errorf("failed payload = %+v", got)
	}
}

func TestSyncPublisher_RunFinished(t *testing.T) {
	fake := &fakePublisher{}
	p := newSyncPublisher(fake, "run-1", nil)

	p.RunFinished(&scale.Result{
		Total:     2,
		Completed: 1,
		Failed:    1,
		Elapsed:   2 * time.Second,
	}, scale.ErrNoDeviceCompleted)

	if len(fake.msgs) != 1 || fake.msgs[0].topic != "scalesync/sync/result" {
		t.Fatalf("messages = %+v", fake.msgs)
	}
	res := fake.msgs[0].payload.(SyncResult)
	if res.Success || res.RunID != "run-1" || res.ElapsedMs != 2000 || res.Error == "" {
		t.Errorf("result = %+v", res)
	}

	p.RunFinished(nil, nil)
	if res := fake.msgs[1].payload.(SyncResult); !res.Success || res.Total != 0 {
		t.Errorf("nil result = %+v", res)
	}
}

func TestSyncPublisher_ErrorsLogged(t *testing.T) {
	fake := &fakePublisher{err: errors.New("not connected")}
	logger := &mockLogger{}
	p := newSyncPublisher(fake, "", logger)

	p.DeviceProgress(scale.Snapshot{Address: "10.0.0.5", Total: 1})
	p.RunFinished(nil, nil)

	if len(logger.warns) != 2 {
		t.Errorf("warns = %v, want 2", logger.warns)
	}
}
