package correlate

import (
	"context"
	"testing"
	"time"

	"leco/frame"
)

func TestExpectDeliverAwait(t *testing.T) {
	b := New()
	cid := frame.ConversationID{1}
	slot := b.Expect(cid)

	want := &frame.ControlEnvelope{ConversationID: cid}
	b.Deliver(want)

	got, err := b.Await(context.Background(), slot)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want the delivered envelope", got)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	b := New()
	slot := b.Expect(frame.ConversationID{2})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Await(ctx, slot)
	if _, ok := err.(ErrTimeout); !ok {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after timeout discards the slot", b.Pending())
	}
}

func TestDeliverWithNoWaiterGoesUnsolicited(t *testing.T) {
	b := New()
	delivered := make(chan *frame.ControlEnvelope, 1)
	b.Unsolicited = func(env *frame.ControlEnvelope) { delivered <- env }

	orphan := &frame.ControlEnvelope{ConversationID: frame.ConversationID{3}}
	b.Deliver(orphan)

	select {
	case got := <-delivered:
		if got != orphan {
			t.Errorf("got %+v, want the orphan envelope", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Unsolicited was never called")
	}
}

func TestDiscardIsIdempotentAndDoesNotAffectLaterSlotWithSameCID(t *testing.T) {
	b := New()
	cid := frame.ConversationID{4}
	slot1 := b.Expect(cid)
	b.Discard(slot1)
	b.Discard(slot1) // second discard must not panic or disturb anything

	slot2 := b.Expect(cid)
	want := &frame.ControlEnvelope{ConversationID: cid}
	b.Deliver(want)

	got, err := b.Await(context.Background(), slot2)
	if err != nil || got != want {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestCorrelationNeverCrossesConversationIDs(t *testing.T) {
	b := New()
	slotA := b.Expect(frame.ConversationID{0xA})
	slotB := b.Expect(frame.ConversationID{0xB})

	envB := &frame.ControlEnvelope{ConversationID: frame.ConversationID{0xB}}
	b.Deliver(envB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Await(ctx, slotA); err == nil {
		t.Fatal("slot A should not have received B's delivery")
	}

	got, err := b.Await(context.Background(), slotB)
	if err != nil || got != envB {
		t.Fatalf("got %+v, %v", got, err)
	}
}
