package bridge

import (
	"bytes"
	"testing"

	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

func TestAudioBufferChunks(t *testing.T) {
	b := NewAudioBuffer(4)

	if b.Next() != nil {
		t.Fatal("empty buffer returned a chunk")
	}

	b.Write([]byte{1, 2, 3})
	if b.Next() != nil {
		t.Fatal("partial chunk released")
	}

	b.Write([]byte{4, 5, 6, 7, 8, 9, 10})
	var got [][]byte
	for c := b.Next(); c != nil; c = b.Next() {
		got = append(got, c)
	}

	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte{1, 2, 3, 4}) || !bytes.Equal(got[1], []byte{5, 6, 7, 8}) {
		t.Errorf("chunks = %v", got)
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}

	// Chunks are copies; later writes must not change them.
	b.Write([]byte{11, 12})
	if !bytes.Equal(got[1], []byte{5, 6, 7, 8}) {
		t.Errorf("chunk mutated to %v", got[1])
	}

	if n := b.Reset(); n != 4 || b.Len() != 0 {
		t.Errorf("Reset = %d, Len = %d", n, b.Len())
	}
}

func TestAudioBufferFrames(t *testing.T) {
	b := NewAudioBuffer(0)
	if b.Threshold() != DefaultChunkBytes {
		t.Fatalf("Threshold = %d", b.Threshold())
	}

	frame := make([]byte, 160)
	released := 0
	for i := 0; i < 45; i++ {
		b.Write(frame)
		for c := b.Next(); c != nil; c = b.Next() {
			if len(c) != DefaultChunkBytes {
				t.Fatalf("chunk of %d bytes", len(c))
			}
			released++
		}
	}
	if released != 2 || b.Len() != 5*160 {
		t.Errorf("released %d chunks, %d bytes left", released, b.Len())
	}
}

func TestOutboxClear(t *testing.T) {
	o := newOutbox()
	o.push(twilio.MediaMessage("MZ", []byte{1}))
	o.push(twilio.MediaMessage("MZ", []byte{2}))

	if dropped := o.clear(twilio.ClearMessage("MZ")); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}

	msg, ok := o.pop()
	if !ok || msg.Event != twilio.EventClear {
		t.Fatalf("pop = %+v, %v", msg, ok)
	}
	if _, ok := o.pop(); ok || o.len() != 0 {
		t.Error("pop should empty the outbox")
	}

	select {
	case <-o.ready:
	default:
		t.Error("outbox should be signalled")
	}
}

func TestOutboxClearMidDrain(t *testing.T) {
	o := newOutbox()
	for i := byte(1); i <= 3; i++ {
		o.push(twilio.MediaMessage("MZ", []byte{i}))
	}

	// The writer has taken the first message when the caller barges in.
	if msg, ok := o.pop(); !ok || msg.Event != twilio.EventMedia {
		t.Fatalf("pop = %+v, %v", msg, ok)
	}
	if dropped := o.clear(twilio.ClearMessage("MZ")); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	o.push(twilio.MediaMessage("MZ", []byte{9}))

	var events []string
	for msg, ok := o.pop(); ok; msg, ok = o.pop() {
		events = append(events, msg.Event)
	}
	if len(events) != 2 || events[0] != twilio.EventClear || events[1] != twilio.EventMedia {
		t.Errorf("drained %v, want [clear media]", events)
	}
}
