package events

import (
	"testing"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

func TestBrokerFiltersByBuild(t *testing.T) {
	b := NewBroker(nil)

	one := b.Subscribe("build-1")
	all := b.Subscribe("")
	defer b.Unsubscribe(one)
	defer b.Unsubscribe(all)

	b.Publish(&Event{BuildID: "build-2", Status: models.BuildStatusInProgress})
	b.Publish(&Event{BuildID: "build-1", Status: models.BuildStatusCompleted})

	select {
	case ev := <-one.Ch:
		if ev.BuildID != "build-1" {
			t.Errorf("filtered subscriber got %q", ev.BuildID)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber received nothing")
	}

	if got := len(all.Ch); got != 2 {
		t.Errorf("unfiltered subscriber buffered %d events, want 2", got)
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe("")

	for i := 0; i < cap(sub.Ch)+10; i++ {
		b.Publish(&Event{BuildID: "x"})
	}
	if len(sub.Ch) != cap(sub.Ch) {
		t.Errorf("len = %d, want %d", len(sub.Ch), cap(sub.Ch))
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestFromRecord(t *testing.T) {
	now := time.Now()
	rec := &models.BuildRecord{ID: "id", Status: models.BuildStatusFailed, ExternalJobID: "42", UpdatedAt: now}
	ev := FromRecord(rec, "correlation timeout")
	if ev.BuildID != "id" || ev.Status != models.BuildStatusFailed || ev.ExternalJobID != "42" || ev.Reason != "correlation timeout" || !ev.Timestamp.Equal(now) {
		t.Errorf("FromRecord() = %+v", ev)
	}
}
