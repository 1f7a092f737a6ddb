package scheduler

import (
	"math"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

type BufferHealth string

const (
	BufferGreen  BufferHealth = "green"
	BufferYellow BufferHealth = "yellow"
	BufferRed    BufferHealth = "red"
)

type BufferStatus struct {
	PublicationID   uuid.UUID    `json:"publication_id"`
	PublicationSlug string       `json:"publication_slug"`
	PublicationName string       `json:"publication_name"`
	Queued          int          `json:"queued"`
	WeeklyTarget    int          `json:"weekly_target"`
	Weeks           float64      `json:"weeks"`
	Status          BufferHealth `json:"status"`
}

// ComputeBuffer derives weeks of buffer from the queued count and weekly
// target. A publication without a target reports zero weeks and green.
func ComputeBuffer(publication models.Publication, queued int, alerts models.BufferAlertSettings) BufferStatus {
	status := BufferStatus{
		PublicationID:   publication.ID,
		PublicationSlug: publication.Slug,
		PublicationName: publication.Name,
		Queued:          queued,
		WeeklyTarget:    publication.WeeklyTarget,
		Status:          BufferGreen,
	}
	if publication.WeeklyTarget <= 0 {
		return status
	}
	weeks := float64(queued) / float64(publication.WeeklyTarget)
	status.Weeks = math.Round(weeks*10) / 10
	switch {
	case weeks < alerts.RedWeeks:
		status.Status = BufferRed
	case weeks < alerts.YellowWeeks:
		status.Status = BufferYellow
	}
	return status
}
