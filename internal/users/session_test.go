package users

import (
	"testing"

	"wired/internal/protocol"
)

func TestTransferChanRelaysAndCloses(t *testing.T) {
	sess, _ := newTestSession(t, 1)

	if sess.TransferChan() != nil {
		t.Fatalf("expected no transfer channel before BeginTransferChan")
	}

	ch := sess.BeginTransferChan()
	if sess.TransferChan() != ch {
		t.Fatalf("expected TransferChan to return the same channel BeginTransferChan opened")
	}

	msg := protocol.New("wired.transfer.data")
	ch <- msg
	if got := <-ch; got != msg {
		t.Fatalf("expected the relayed message to round-trip through the channel")
	}

	sess.EndTransferChan()
	if sess.TransferChan() != nil {
		t.Fatalf("expected EndTransferChan to clear the channel")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected the channel to be closed after EndTransferChan")
	}
}
