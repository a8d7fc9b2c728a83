package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bitleak/lmstfy/client"

	"wsa/simfeed/pkg/lmstfyx"
	"wsa/simfeed/pkg/logger"
)

// fakeSource 内存消息源
type fakeSource struct {
	mu       sync.Mutex
	pending  []*Message
	failures int
	acked    []string
}

func (f *fakeSource) Consume(queue string, timeout, ttr time.Duration) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	msg := f.pending[0]
	f.pending = f.pending[1:]
	msg.Queue = queue
	return msg, nil
}

func (f *fakeSource) Ack(queue, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestSubscriberForwardsMessagesAndSurvivesErrors(t *testing.T) {
	source := &fakeSource{failures: 2}
	for i := 0; i < 5; i++ {
		source.pending = append(source.pending, &Message{ID: fmt.Sprintf("job-%d", i)})
	}
	sub := NewSubscriber(&SubscriberConfig{
		QueueName:    "actions",
		Concurrency:  2,
		ErrorBackoff: time.Millisecond,
	}, source, logger.NewNopLogger())

	inputChan := make(chan *Message, 10)
	_ = sub.Start(context.Background(), inputChan)
	waitUntil(t, func() bool { return len(inputChan) == 5 }, "forwarded messages")

	sub.Stop()
	sub.Wait()

	seen := map[string]bool{}
	for len(inputChan) > 0 {
		msg := <-inputChan
		if msg.Queue != "actions" {
			t.Fatalf("unexpected queue %q", msg.Queue)
		}
		seen[msg.ID] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct messages, got %d", len(seen))
	}
}

func TestProcessorAcksOnlySuccessfulJobs(t *testing.T) {
	source := &fakeSource{}
	proc := func(ctx context.Context, job *client.Job) *lmstfyx.JobResp {
		switch string(job.Data) {
		case "ok":
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusSuccess}
		case "retry":
			return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusRelease}
		case "panic":
			panic("boom")
		}
		return &lmstfyx.JobResp{Action: lmstfyx.JobRespStatusBury}
	}
	p := NewProcessor(&ProcessorConfig{Concurrency: 2, Timeout: time.Second}, proc, source, logger.NewNopLogger())

	inputChan := make(chan *Message, 8)
	for i, data := range []string{"ok", "bad", "retry", "panic", "ok"} {
		inputChan <- &Message{ID: fmt.Sprintf("job-%d", i), Queue: "actions", Data: []byte(data)}
	}

	_ = p.Start(context.Background(), inputChan)
	p.SignalShutdown()
	p.SignalShutdown()
	p.Wait()

	if len(inputChan) != 0 {
		t.Fatalf("drain mode left %d messages", len(inputChan))
	}
	acked := source.ackedIDs()
	if len(acked) != 2 {
		t.Fatalf("expected 2 acks, got %v", acked)
	}
	for _, id := range acked {
		if id != "job-0" && id != "job-4" {
			t.Fatalf("unexpected ack %s", id)
		}
	}
}

func TestPreProcessorStopsOnFirstError(t *testing.T) {
	sentinel := errors.New("rejected")
	calls := 0
	chain := NewPreProcessor().
		Then("first", func(ctx context.Context) error { calls++; return nil }).
		Then("second", func(ctx context.Context) error { calls++; return sentinel }).
		Then("third", func(ctx context.Context) error { calls++; return nil })

	err := chain.Run(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewPreProcessor().Then("never", func(context.Context) error { return nil }).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
