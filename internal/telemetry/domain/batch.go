package domain

import (
	"cmp"
	"slices"
	"time"
)

// BatchMetadata is attached to every outbound group request.
type BatchMetadata struct {
	BatchSize         int            `json:"batchSize"`
	PriorityBreakdown map[string]int `json:"priorityBreakdown"`
	ClientTimestamp   time.Time      `json:"clientTimestamp"`
	EventType         EventType      `json:"eventType"`
	Teardown          bool           `json:"teardown,omitempty"`
}

// Batch is the payload of one outbound request: the events of a single type plus batch metadata.
type Batch struct {
	Events        []Event       `json:"events"`
	BatchMetadata BatchMetadata `json:"batchMetadata"`
}

// Group is the slice of a drained batch that shares one event type.
type Group struct {
	Type   EventType
	Events []Event
}

// SortByPriority orders events by priority weight, highest first. Equal priorities keep their relative order.
func SortByPriority(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		return cmp.Compare(b.Priority.Weight(), a.Priority.Weight())
	})
}

// GroupByType splits events by type. Groups appear in order of first occurrence and keep event order.
func GroupByType(events []Event) []Group {
	index := make(map[EventType]int)
	var groups []Group
	for _, e := range events {
		i, ok := index[e.Type]
		if !ok {
			i = len(groups)
			index[e.Type] = i
			groups = append(groups, Group{Type: e.Type})
		}
		groups[i].Events = append(groups[i].Events, e)
	}
	return groups
}

// PriorityBreakdown counts events per priority name.
func PriorityBreakdown(events []Event) map[string]int {
	out := make(map[string]int)
	for _, e := range events {
		out[e.Priority.String()]++
	}
	return out
}

// NewBatch builds the request payload for one group.
func NewBatch(g Group, now time.Time, teardown bool) Batch {
	return Batch{
		Events: g.Events,
		BatchMetadata: BatchMetadata{
			BatchSize:         len(g.Events),
			PriorityBreakdown: PriorityBreakdown(g.Events),
			ClientTimestamp:   now.UTC(),
			EventType:         g.Type,
			Teardown:          teardown,
		},
	}
}
