package providers

import (
	"context"
	"testing"
	"time"

	"github.com/lacekit/lace/internal/agent"
)

func TestSendChunkDelivers(t *testing.T) {
	chunks := make(chan agent.Chunk)
	go func() {
		if got := <-chunks; got.Text != "hello" {
			t.Errorf("chunk text = %q", got.Text)
		}
	}()
	if !sendChunk(context.Background(), chunks, agent.Chunk{Text: "hello"}) {
		t.Fatal("sendChunk() = false with a live consumer")
	}
}

func TestSendChunkReleasesAbandonedProducer(t *testing.T) {
	// The consumer is gone: nobody ever reads chunks.
	chunks := make(chan agent.Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan bool, 1)
	go func() {
		done <- sendChunk(ctx, chunks, agent.Chunk{Text: "orphaned"})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("sendChunk() = true on a cancelled context with no consumer")
		}
	case <-time.After(time.Second):
		t.Fatal("sendChunk() blocked after the consumer abandoned the stream")
	}
}
