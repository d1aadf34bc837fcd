package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatchInboundRunsHandlersConcurrently(t *testing.T) {
	b := NewEventBus()

	release := make(chan struct{})
	started := make(chan string, 2)
	b.Handle(KindMemberJoined, func(ctx context.Context, ev *Event) {
		started <- ev.GuildID
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.DispatchInbound(ctx) }()

	b.PublishInbound(&Event{Kind: KindMemberJoined, GuildID: "g1"})
	b.PublishInbound(&Event{Kind: KindMemberJoined, GuildID: "g2"})

	// Both handlers must be running at once while the first is still blocked.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both handlers to start without waiting on each other")
		}
	}
	close(release)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatchInboundAssignsIDAndRecoversPanic(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var seen []string
	b.Handle(KindInviteCreated, func(ctx context.Context, ev *Event) {
		panic("boom")
	})
	b.Handle(KindInviteCreated, func(ctx context.Context, ev *Event) {
		mu.Lock()
		seen = append(seen, ev.ID)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.DispatchInbound(ctx) }()

	b.PublishInbound(&Event{Kind: KindInviteCreated, GuildID: "g1"})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second handler did not run after first panicked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if seen[0] == "" {
		t.Fatal("expected event id to be assigned")
	}
}

func TestDispatchOutboundFansOutToAllChannels(t *testing.T) {
	b := NewEventBus()

	got := make(chan string, 2)
	b.Subscribe("discord", func(n *Notification) { got <- "discord:" + n.Title })
	b.Subscribe("slack", func(n *Notification) { got <- "slack:" + n.Title })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.DispatchOutbound(ctx) }()

	b.PublishOutbound(ctx, &Notification{Title: "hello"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(2 * time.Second):
			t.Fatal("expected delivery to both channels")
		}
	}
	cancel()
	<-done

	if !seen["discord:hello"] || !seen["slack:hello"] {
		t.Fatalf("unexpected deliveries: %v", seen)
	}
}

func TestVoiceStateTransitions(t *testing.T) {
	cases := []struct {
		name          string
		before, after string
		left, entered bool
	}{
		{name: "join", after: "c1", entered: true},
		{name: "leave", before: "c1", left: true},
		{name: "move", before: "c1", after: "c2", left: true, entered: true},
		{name: "mute toggle", before: "c1", after: "c1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := &VoiceStateChanged{BeforeChannelID: tc.before, AfterChannelID: tc.after}
			if v.Left() != tc.left || v.Entered() != tc.entered {
				t.Fatalf("left=%v entered=%v, want left=%v entered=%v", v.Left(), v.Entered(), tc.left, tc.entered)
			}
		})
	}
}

func TestPublishOutboundDropsWhenFullOrDone(t *testing.T) {
	b := NewEventBus()
	for i := 0; i < cap(b.outbound); i++ {
		if !b.PublishOutbound(t.Context(), &Notification{Title: "fill"}) {
			t.Fatalf("unexpected drop at %d", i)
		}
	}
	if b.PublishOutbound(t.Context(), &Notification{Title: "overflow"}) {
		t.Fatal("expected drop on a full queue")
	}
	if b.OutboundSize() != cap(b.outbound) {
		t.Fatalf("queue size changed: %d", b.OutboundSize())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if NewEventBus().PublishOutbound(ctx, &Notification{Title: "late"}) {
		t.Fatal("expected drop after cancellation")
	}
}
