package models

import "time"

type OrderState string

const (
	StateOrdered   OrderState = "ORDERED"
	StateConfirmed OrderState = "CONFIRMED"
	StatePickedUp  OrderState = "PICKED_UP"
	StateInTransit OrderState = "IN_TRANSIT"
	StateArrived   OrderState = "ARRIVED"
	StateDelivered OrderState = "DELIVERED"
	StateCancelled OrderState = "CANCELLED"
)

// DeliveryStates is the linear progression every order follows. CANCELLED
// sits outside the line and is reachable from any state but DELIVERED.
var DeliveryStates = []OrderState{
	StateOrdered,
	StateConfirmed,
	StatePickedUp,
	StateInTransit,
	StateArrived,
	StateDelivered,
}

var nextState = map[OrderState]OrderState{
	StateOrdered:   StateConfirmed,
	StateConfirmed: StatePickedUp,
	StatePickedUp:  StateInTransit,
	StateInTransit: StateArrived,
	StateArrived:   StateDelivered,
}

// NextState returns the only state reachable from s on the linear path,
// or false when s is terminal.
func NextState(s OrderState) (OrderState, bool) {
	next, ok := nextState[s]
	return next, ok
}

func (s OrderState) Terminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// NewTimeline returns the six-entry delivery timeline with ORDERED already
// completed at the given time and every later state pending.
func NewTimeline(orderedAt time.Time) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(DeliveryStates))
	for i, state := range DeliveryStates {
		entry := TimelineEntry{State: state}
		if i == 0 {
			ts := orderedAt
			entry.Timestamp = &ts
			entry.Completed = true
		}
		timeline = append(timeline, entry)
	}
	return timeline
}
