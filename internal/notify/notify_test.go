package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"dubhub/internal/model"
)

func TestEventBusSinceFiltersByUser(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	bus := NewEventBus(10)
	bus.Publish(Notification{UserID: alice, Title: "1"})
	bus.Publish(Notification{UserID: bob, Title: "2"})
	bus.Publish(Notification{UserID: alice, Title: "3"})

	got := bus.Since(alice, 1)
	if len(got) != 1 || got[0].Title != "3" || got[0].Seq != 3 {
		t.Fatalf("unexpected notifications: %+v", got)
	}
	if bus.LastSeq() != 3 {
		t.Fatalf("LastSeq = %d, want 3", bus.LastSeq())
	}
}

func TestEventBusCapsHistory(t *testing.T) {
	user := uuid.New()
	bus := NewEventBus(2)
	for _, title := range []string{"1", "2", "3"} {
		bus.Publish(Notification{UserID: user, Title: title})
	}
	got := bus.Since(user, 0)
	if len(got) != 2 || got[0].Title != "2" || got[1].Title != "3" {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestForTerminalJob(t *testing.T) {
	job := model.Job{ID: uuid.New(), UserID: uuid.New(), Type: model.JobTypeDubbing, Status: model.StatusSucceeded, OutputURL: "https://cdn/x.mp4"}
	n, ok := ForTerminalJob(job)
	if !ok || n.Kind != KindJobSucceeded || n.OutputURL != job.OutputURL || *n.JobID != job.ID {
		t.Fatalf("unexpected success notification: %+v", n)
	}

	job.Status, job.OutputURL, job.Error = model.StatusFailed, "", "vendor exploded"
	n, ok = ForTerminalJob(job)
	if !ok || n.Kind != KindJobFailed || n.Message != "vendor exploded" {
		t.Fatalf("unexpected failure notification: %+v", n)
	}

	job.Status = model.StatusProcessing
	if _, ok := ForTerminalJob(job); ok {
		t.Fatalf("non-terminal job must not produce a notification")
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Notification) error { return f.err }

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	bus := NewEventBus(5)
	boom := errors.New("boom")
	m := Multi{failingNotifier{err: boom}, bus, nil}

	err := m.Notify(context.Background(), Notification{UserID: uuid.New(), Title: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to include boom, got %v", err)
	}
	if bus.LastSeq() != 1 {
		t.Fatalf("bus should still receive the notification")
	}
}

func TestAMQPPublishingEncodesJSON(t *testing.T) {
	user := uuid.New()
	msg, err := publishing(Notification{UserID: user, Kind: KindJobFailed, Title: "Dubbing failed"})
	if err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if msg.ContentType != "application/json" || msg.Headers["user_id"] != user.String() {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	var decoded Notification
	if err := json.Unmarshal(msg.Body, &decoded); err != nil || decoded.Title != "Dubbing failed" {
		t.Fatalf("body did not round-trip: %v %+v", err, decoded)
	}
}

func TestRedisChannelName(t *testing.T) {
	user := uuid.New()
	p := NewRedisPublisher(nil, "", "a")
	if got := p.Channel(Notification{UserID: user}); got != "dubhub:notify:"+user.String() {
		t.Fatalf("unexpected channel %q", got)
	}
}
