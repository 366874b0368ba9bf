// internal/api/http/dto.go
package http

import (
	"time"

	"release-orchestrator/internal/domain"
)

// ScheduleEntryResponse is one entry of GET /schedule.
type ScheduleEntryResponse struct {
	Key          string         `json:"key"`
	TestType     string         `json:"test_type"`
	Interval     int            `json:"interval"`
	State        string         `json:"state"`
	NextSchedule time.Time      `json:"next_schedule"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
}

type ScheduleResponse struct {
	NextCleanup time.Time               `json:"next_cleanup"`
	Entries     []ScheduleEntryResponse `json:"entries"`
}

func toScheduleResponse(entries []domain.ScheduleEntry, nextCleanup time.Time) ScheduleResponse {
	resp := ScheduleResponse{NextCleanup: nextCleanup, Entries: make([]ScheduleEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ScheduleEntryResponse{
			Key:          e.Test.Key(),
			TestType:     e.Test.TestType,
			Interval:     e.Test.Interval,
			State:        string(e.State),
			NextSchedule: e.NextSchedule,
			Kwargs:       e.Test.Kwargs,
		})
	}
	return resp
}

// ResultsQuery is the query string of GET /results/{test}.
type ResultsQuery struct {
	TestName string `validate:"required,max=256"`
	Limit    int    `validate:"gte=1,lte=500"`
}
