package trace

import (
	"bytes"
	"sync"
	"testing"
)

func TestCanonicalJSON_IndependentOfArrivalOrder(t *testing.T) {
	t1 := RunTrace{
		Fingerprint: "fp",
		Events: []Event{
			{Kind: KindTaskFailed, Task: "b", Reason: ReasonError},
			{Kind: KindTaskSucceeded, Task: "a"},
			{Kind: KindTaskSkipped, Task: "c", Reason: ReasonUpstreamFailed, Cause: "b"},
		},
	}
	t2 := RunTrace{
		Fingerprint: "fp",
		Events: []Event{
			{Kind: KindTaskSkipped, Task: "c", Cause: "b", Reason: ReasonUpstreamFailed},
			{Kind: KindTaskSucceeded, Task: "a"},
			{Kind: KindTaskFailed, Task: "b", Reason: ReasonError},
		},
	}

	b1, err := t1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := t2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}

	expected := `{"fingerprint":"fp","events":[` +
		`{"kind":"TaskSucceeded","task":"a"},` +
		`{"kind":"TaskFailed","task":"b","reason":"Error"},` +
		`{"kind":"TaskSkipped","task":"c","reason":"UpstreamFailed","cause":"b"}]}`
	if string(b1) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b1)
	}

	// The receiver must not be reordered.
	if t1.Events[0].Task != "b" {
		t.Fatal("CanonicalJSON mutated the receiver")
	}
}

func TestHash_Deterministic(t *testing.T) {
	tr := RunTrace{Fingerprint: "fp", Events: []Event{{Kind: KindTaskSucceeded, Task: "a"}}}
	h1, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := tr.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("unstable or malformed hash: %q vs %q", h1, h2)
	}

	other := RunTrace{Fingerprint: "fp", Events: []Event{{Kind: KindTaskFailed, Task: "a", Reason: ReasonPanic}}}
	h3, err := other.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatal("different traces produced the same hash")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		tr   RunTrace
	}{
		{"no fingerprint", RunTrace{}},
		{"unknown kind", RunTrace{Fingerprint: "fp", Events: []Event{{Kind: "Bogus", Task: "a"}}}},
		{"no task", RunTrace{Fingerprint: "fp", Events: []Event{{Kind: KindTaskSucceeded}}}},
		{"skip without cause", RunTrace{Fingerprint: "fp", Events: []Event{{Kind: KindTaskSkipped, Task: "a"}}}},
	}
	for _, tc := range tests {
		if err := tc.tr.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

type panickySink struct{}

func (panickySink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, Event{Kind: KindTaskSucceeded, Task: "a"})
	SafeRecord(nil, Event{Kind: KindTaskSucceeded, Task: "a"})
	NopSink{}.Record(Event{})
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(Event{Kind: KindTaskSucceeded, Task: "t"})
		}()
	}
	wg.Wait()

	if got := len(r.Events()); got != 50 {
		t.Fatalf("expected 50 events, got %d", got)
	}
	tr := r.Trace("fp")
	if err := tr.Validate(); err != nil {
		t.Fatalf("trace invalid: %v", err)
	}

	r.Reset()
	if len(r.Events()) != 0 {
		t.Fatal("Reset did not clear events")
	}
}
