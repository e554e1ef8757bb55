package coordlog

import (
	"context"
	"testing"
	"time"
)

func publishN(t *testing.T, log *MemoryLog, topic string, n int) []Message {
	t.Helper()
	ctx := context.Background()
	published := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		msg := NewMessage(TypeTaskProgress, topic, "executor-1", map[string]any{"step": i})
		seq, err := log.Publish(ctx, topic, msg)
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		msg.SequenceNumber = seq
		published = append(published, msg)
	}
	return published
}

func TestMemoryLogAssignsIncreasingSequence(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()

	published := publishN(t, log, "task-1", 5)
	for i, msg := range published {
		if msg.SequenceNumber != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, msg.SequenceNumber)
		}
	}

	history := log.History("task-1")
	if len(history) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(history))
	}
}

func TestMemoryLogSubscribeReplaysFromSequence(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()
	publishN(t, log, "task-1", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := log.Subscribe(ctx, "task-1", 2)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var got []uint64
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case msg := <-stream:
			got = append(got, msg.SequenceNumber)
		case <-timeout:
			t.Fatalf("timed out, received %v", got)
		}
	}
	for i, seq := range got {
		if seq != uint64(i+3) {
			t.Fatalf("expected replay from seq 3, got %v", got)
		}
	}
}

func TestMemoryLogSubscribeReplaysLongHistory(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()
	const total = 600
	publishN(t, log, "task-1", total)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		stream, err := log.Subscribe(ctx, "task-1", 0)
		if err != nil {
			done <- err
			return
		}
		for i := 0; i < total; i++ {
			msg := <-stream
			if msg.SequenceNumber != uint64(i+1) {
				t.Errorf("expected seq %d, got %d", i+1, msg.SequenceNumber)
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay of long history did not finish")
	}
}

func TestMemoryLogRedeliverDuplicatesMessage(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := log.Subscribe(ctx, "task-1", 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	published := publishN(t, log, "task-1", 1)
	if !log.Redeliver("task-1", 1) {
		t.Fatal("redeliver should succeed")
	}

	seen := map[string]int{}
	timeout := time.After(time.Second)
	for total := 0; total < 2; total++ {
		select {
		case msg := <-stream:
			seen[msg.ID]++
		case <-timeout:
			t.Fatalf("timed out waiting for redelivery")
		}
	}
	if seen[published[0].ID] != 2 {
		t.Fatalf("expected the same message id twice, got %v", seen)
	}
}

func TestMessageEncodeDecode(t *testing.T) {
	msg := NewMessage(TypePaymentInitiated, "task-7", "negotiator-1", map[string]any{
		"payment_id": "pay-7",
		"amount":     "10",
	})
	msg.SequenceNumber = 9

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != msg.ID || decoded.Type != msg.Type || decoded.SequenceNumber != 9 {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
	if decoded.Payload["payment_id"] != "pay-7" {
		t.Fatalf("payload lost: %+v", decoded.Payload)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"id":"x","type":"bogus","task_id":"t"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
