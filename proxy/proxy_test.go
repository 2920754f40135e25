package proxy

import (
	"bytes"
	"net"
	"testing"
	"time"

	"leco/frame"
	"leco/fullname"
)

func startProxy(t *testing.T) *Proxy {
	t.Helper()
	p := New("127.0.0.1:0", "127.0.0.1:0")

	// Run binds eagerly inside Run, so we must let it pick ports itself by
	// listening once here and reusing the chosen addresses.
	ingressLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	egressLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	p.IngressAddr = ingressLn.Addr().String()
	p.EgressAddr = egressLn.Addr().String()
	ingressLn.Close()
	egressLn.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run() }()
	// Give the accept loops a moment to bind before dialing.
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(func() {
		p.Shutdown()
		<-done
	})
	return p
}

func TestProxyFansOutToAllSubscribersRegardlessOfTopic(t *testing.T) {
	p := startProxy(t)

	sub1, err := net.Dial("tcp", p.EgressAddr)
	if err != nil {
		t.Fatalf("Dial egress: %v", err)
	}
	defer sub1.Close()
	sub2, err := net.Dial("tcp", p.EgressAddr)
	if err != nil {
		t.Fatalf("Dial egress: %v", err)
	}
	defer sub2.Close()

	time.Sleep(20 * time.Millisecond) // let both subscribers register

	pub, err := net.Dial("tcp", p.IngressAddr)
	if err != nil {
		t.Fatalf("Dial ingress: %v", err)
	}
	defer pub.Close()

	sent := [][]byte{[]byte("topic.A"), []byte("payload-1")}
	if err := frame.WriteFrames(pub, sent); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}

	for i, sub := range []net.Conn{sub1, sub2} {
		sub.SetReadDeadline(time.Now().Add(2 * time.Second))
		got, err := frame.ReadFrames(sub)
		if err != nil {
			t.Fatalf("subscriber %d ReadFrames: %v", i, err)
		}
		if len(got) != 2 || !bytes.Equal(got[0], sent[0]) || !bytes.Equal(got[1], sent[1]) {
			t.Fatalf("subscriber %d got %q, want %q", i, got, sent)
		}
	}
}

// TestProxySubscriberFiltersByTopic covers the negative half of the
// fan-out scenario: the proxy itself never parses a topic (it is a pure
// pass-through per the package and EncodeData doc comments), but a subscriber reading
// frame.DecodeData off its own connection must be able to discard frames
// whose topic it did not ask for. A subscriber "listening" on N1.q sees
// every frame the proxy forwards but only keeps the one addressed to N1.q.
func TestProxySubscriberFiltersByTopic(t *testing.T) {
	p := startProxy(t)

	sub, err := net.Dial("tcp", p.EgressAddr)
	if err != nil {
		t.Fatalf("Dial egress: %v", err)
	}
	defer sub.Close()

	time.Sleep(20 * time.Millisecond)

	pub, err := net.Dial("tcp", p.IngressAddr)
	if err != nil {
		t.Fatalf("Dial ingress: %v", err)
	}
	defer pub.Close()

	other := &frame.DataEnvelope{
		Topic:       fullname.FullName{Namespace: "N1", Local: "other"},
		MessageType: frame.MessageTypeJSON,
		DataFrames:  [][]byte{[]byte("not for us")},
	}
	wanted := &frame.DataEnvelope{
		Topic:       fullname.FullName{Namespace: "N1", Local: "q"},
		MessageType: frame.MessageTypeJSON,
		DataFrames:  [][]byte{[]byte("for us")},
	}
	if err := frame.EncodeData(pub, other); err != nil {
		t.Fatalf("EncodeData other: %v", err)
	}
	if err := frame.EncodeData(pub, wanted); err != nil {
		t.Fatalf("EncodeData wanted: %v", err)
	}

	const wantTopic = "N1.q"
	sub.SetReadDeadline(time.Now().Add(2 * time.Second))

	// The proxy forwards both frames verbatim; the subscriber is
	// responsible for discarding the one it did not ask for.
	first, err := frame.DecodeData(sub)
	if err != nil {
		t.Fatalf("DecodeData (1st): %v", err)
	}
	if first.Topic.String() == wantTopic {
		t.Fatalf("first frame unexpectedly matched %s before the filtered one arrived", wantTopic)
	}

	second, err := frame.DecodeData(sub)
	if err != nil {
		t.Fatalf("DecodeData (2nd): %v", err)
	}
	if second.Topic.String() != wantTopic {
		t.Fatalf("second frame topic = %s, want %s", second.Topic.String(), wantTopic)
	}
	if len(second.DataFrames) != 1 || string(second.DataFrames[0]) != "for us" {
		t.Fatalf("got %q, want the wanted payload", second.DataFrames)
	}
}

func TestProxyShutdownClosesListenersAndSubscribers(t *testing.T) {
	p := startProxy(t)
	sub, err := net.Dial("tcp", p.EgressAddr)
	if err != nil {
		t.Fatalf("Dial egress: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	p.Shutdown()
	p.Shutdown() // must be idempotent

	sub.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := sub.Read(buf); err == nil {
		t.Fatal("expected the subscriber connection to be closed after Shutdown")
	}
}
