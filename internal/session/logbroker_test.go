package session_test

import (
	"fmt"
	"testing"

	"github.com/seantiz/browserd/internal/session"
)

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := session.NewLogBroker()
	ch, unsub := b.Subscribe("t1")
	defer unsub()

	lines := []string{"line 1", "line 2", "line 3"}
	for _, l := range lines {
		b.Publish("t1", l)
	}
	b.Close("t1")

	var got []string
	for l := range ch {
		got = append(got, l)
	}

	if len(got) != len(lines) {
		t.Fatalf("got %d lines, want %d", len(got), len(lines))
	}
	for i, l := range got {
		if l != lines[i] {
			t.Errorf("line[%d] = %q, want %q", i, l, lines[i])
		}
	}
}

func TestLogBrokerTopicsAreSeparate(t *testing.T) {
	b := session.NewLogBroker()
	ch, unsub := b.Subscribe("t1")
	defer unsub()

	b.Publish("t2", "other task")
	b.Publish("t1", "mine")
	b.Close("t1")

	var got []string
	for l := range ch {
		got = append(got, l)
	}
	if len(got) != 1 || got[0] != "mine" {
		t.Errorf("got %v, want [mine]", got)
	}
}

func TestLogBrokerLateSubscriber(t *testing.T) {
	b := session.NewLogBroker()
	b.Publish("t1", "before anyone listened")
	b.Close("t1")

	ch, unsub := b.Subscribe("t1")
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerFirehose(t *testing.T) {
	b := session.NewLogBroker()
	all, unsub := b.SubscribeAll()

	b.Publish("t1", "a")
	b.Close("t1")
	b.Publish("t2", "b")

	if got := <-all; got != "a" {
		t.Errorf("first = %q, want a", got)
	}
	if got := <-all; got != "b" {
		t.Errorf("second = %q, want b", got)
	}

	unsub()
	b.Publish("t3", "c")
	select {
	case l := <-all:
		t.Errorf("received %q after unsubscribe", l)
	default:
	}
}

func TestLogBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := session.NewLogBroker()
	_, unsub := b.SubscribeAll()
	defer unsub()

	for i := 0; i < 1000; i++ {
		b.Publish("t1", fmt.Sprintf("line %d", i))
	}
}
