package notification

import (
	"context"

	"ensemble/internal/event"
)

var bus = event.NewBus[Event](context.Background(), event.BusOptions{
	Name:        "notification_events",
	HistorySize: 50,
})

func Bus() *event.Bus[Event] {
	return bus
}

func Publish(event Event) {
	if bus == nil {
		return
	}
	bus.Publish(event)
}

func Announce(level, source, message string) {
	if bus == nil {
		return
	}
	bus.Publish(NewAnnouncement(level, source, message))
}
