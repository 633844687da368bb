package simulator

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/scalesync/internal/scale"
)

// recordingSink collects callbacks.
type recordingSink struct {
	mu       sync.Mutex
	states   []scale.StateCode
	received []scale.Record
}

func (s *recordingSink) OnState(_ string, code scale.StateCode) {
	s.mu.Lock()
	s.states = append(s.states, code)
	s.mu.Unlock()
}

func (s *recordingSink) OnReceive(_ string, payload []byte) {
	rec, err := scale.DecodeRecord(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.received = append(s.received, rec)
	s.mu.Unlock()
}

func connected(t *testing.T, sim *Simulator, addr string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	if err := sim.AddConnection(scale.ConnectionConfig{Address: addr, Index: 1}, sink); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}
	if err := sim.Connect(addr, 1); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return sink
}

func TestConnect_NotifiesConnected(t *testing.T) {
	sim := New(Options{})
	sink := connected(t, sim, "10.0.0.5")
	sim.Wait()

	want := []scale.StateCode{scale.StateCodeReceiveTimeout, scale.StateCodeConnected}
	if len(sink.states) != len(want) || sink.states[0] != want[0] || sink.states[1] != want[1] {
		t.Errorf("states = %v, want %v", sink.states, want)
	}
	if !sim.Connected("10.0.0.5") {
		t.Error("Connected() = false after Connect")
	}
}

func TestConnect_Errors(t *testing.T) {
	sim := New(Options{FailConnect: map[string]bool{"10.0.0.9": true}})

	if err := sim.Connect("10.0.0.5", 1); !errors.Is(err, ErrNotAdded) {
		t.Errorf("Connect(unknown) error = %v, want ErrNotAdded", err)
	}
	if err := sim.AddConnection(scale.ConnectionConfig{Address: "10.0.0.5", Index: 1}, &recordingSink{}); err != nil {
		t.Fatal(err)
	}
	if err := sim.Connect("10.0.0.5", 2); !errors.Is(err, ErrNotAdded) {
		t.Errorf("Connect(wrong index) error = %v, want ErrNotAdded", err)
	}
	if err := sim.Connect("10.0.0.9", 1); !errors.Is(err, ErrInjected) {
		t.Errorf("Connect(failing) error = %v, want ErrInjected", err)
	}
}

func TestAddConnection_Injected(t *testing.T) {
	sim := New(Options{FailAdd: map[string]bool{"10.0.0.5": true}})
	err := sim.AddConnection(scale.ConnectionConfig{Address: "10.0.0.5"}, &recordingSink{})
	if !errors.Is(err, ErrInjected) {
		t.Errorf("AddConnection() error = %v, want ErrInjected", err)
	}
}

func TestSendData_Echoes(t *testing.T) {
	sim := New(Options{DuplicateAcks: true})
	sink := connected(t, sim, "10.0.0.5")

	rec := scale.Record{PLUNo: 1001, Name: "Ham"}
	if err := sim.SendData("10.0.0.5", 1, rec.Encode()); err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	sim.Wait()

	if got := sim.Records("10.0.0.5"); len(got) != 1 || got[0].PLUNo != 1001 {
		t.Errorf("Records() = %+v", got)
	}
	if len(sink.received) != 2 || sink.received[0].Name != "Ham" {
		t.Errorf("received = %+v, want two echoes", sink.received)
	}
}

func TestSendData_Errors(t *testing.T) {
	sim := New(Options{FailSendAfter: map[string]int{"10.0.0.5": 1}})
	connected(t, sim, "10.0.0.5")
	payload := scale.Record{PLUNo: 1001}.Encode()

	if err := sim.SendData("10.0.0.5", 1, []byte{1, 2}); err == nil {
		t.Error("SendData(short payload) succeeded")
	}
	if err := sim.SendData("10.0.0.6", 1, payload); !errors.Is(err, ErrNotAdded) {
		t.Errorf("SendData(unknown) error = %v, want ErrNotAdded", err)
	}
	if err := sim.SendData("10.0.0.5", 1, payload); err != nil {
		t.Fatalf("first SendData() error = %v", err)
	}
	if err := sim.SendData("10.0.0.5", 1, payload); !errors.Is(err, ErrInjected) {
		t.Errorf("second SendData() error = %v, want ErrInjected", err)
	}

	if err := sim.Disconnect("10.0.0.5", 1); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := sim.SendData("10.0.0.5", 1, payload); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendData(disconnected) error = %v, want ErrNotConnected", err)
	}
	sim.Wait()
}

func TestSilentScale(t *testing.T) {
	sim := New(Options{Silent: map[string]bool{"10.0.0.5": true}})
	sink := connected(t, sim, "10.0.0.5")

	if err := sim.SendData("10.0.0.5", 1, scale.Record{PLUNo: 1}.Encode()); err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	sim.Wait()

	if len(sink.states) != 0 || len(sink.received) != 0 {
		t.Errorf("silent scale called back: states=%v received=%v", sink.states, sink.received)
	}
	if len(sim.Records("10.0.0.5")) != 1 {
		t.Error("silent scale should still accept the record")
	}
}

func TestDisconnect_Unknown(t *testing.T) {
	if err := New(Options{}).Disconnect("10.0.0.5", 1); !errors.Is(err, ErrNotAdded) {
		t.Errorf("Disconnect() error = %v, want ErrNotAdded", err)
	}
	if New(Options{}).Records("10.0.0.5") != nil {
		t.Error("Records(unknown) should be nil")
	}
}
