package protocol

import (
	"slices"
	"time"
)

// LeadSnapshot accumulates the facts extracted about a lead.
//
// Enumerated fields hold "unknown" until extracted. Free-text fields
// (CityText, RoomSizeText, Email) are empty until captured. Fields are
// written only through the Set* and RecordQualification methods so each
// write also stamps UpdatedAt.
type LeadSnapshot struct {
	LeadID               string                `json:"lead_id"`
	Language             Language              `json:"language"`
	CityText             string                `json:"city_text"`
	RegionValue          Region                `json:"region_value"`
	RegionConfirmed      bool                  `json:"region_confirmed"`
	BudgetBand           BudgetBand            `json:"budget_band"`
	TimelineBucket       TimelineBucket        `json:"timeline_bucket"`
	RoomSizeText         string                `json:"room_size_text"`
	Email                string                `json:"email"`
	QualificationStatus  QualificationStatus   `json:"qualification_status"`
	QualificationReasons []QualificationReason `json:"qualification_reasons"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot for leadID with every field at its sentinel.
func NewSnapshot(leadID string, at time.Time) *LeadSnapshot {
	return &LeadSnapshot{
		LeadID:               leadID,
		Language:             LanguageUnknown,
		RegionValue:          RegionUnknown,
		BudgetBand:           BudgetUnknown,
		TimelineBucket:       TimelineUnknown,
		QualificationStatus:  QualificationUnknown,
		QualificationReasons: []QualificationReason{},
		UpdatedAt:            at,
	}
}

// Clone returns a deep copy; the reasons slice is never shared.
func (s *LeadSnapshot) Clone() *LeadSnapshot {
	c := *s
	c.QualificationReasons = slices.Clone(s.QualificationReasons)
	if c.QualificationReasons == nil {
		c.QualificationReasons = []QualificationReason{}
	}
	return &c
}

// HasTimeline reports whether a timeline bucket has been extracted.
func (s *LeadSnapshot) HasTimeline() bool {
	return s.TimelineBucket != "" && s.TimelineBucket != TimelineUnknown
}

// HasRoomSize reports whether the room size answer has been captured.
func (s *LeadSnapshot) HasRoomSize() bool {
	return s.RoomSizeText != ""
}

// HasRegion reports whether a region has been extracted.
func (s *LeadSnapshot) HasRegion() bool {
	return s.RegionValue != "" && s.RegionValue != RegionUnknown
}

// HasBudget reports whether a budget band has been extracted.
func (s *LeadSnapshot) HasBudget() bool {
	return s.BudgetBand != "" && s.BudgetBand != BudgetUnknown
}

// Evaluated reports whether the qualification rule has already run for
// this lead. Any stored status other than empty or "unknown" counts,
// including values this version does not recognize.
func (s *LeadSnapshot) Evaluated() bool {
	return s.QualificationStatus != "" && s.QualificationStatus != QualificationUnknown
}

func (s *LeadSnapshot) SetLanguage(l Language, at time.Time) bool {
	if l == "" || l == LanguageUnknown || l == s.Language {
		return false
	}
	s.Language = l
	s.UpdatedAt = at
	return true
}

func (s *LeadSnapshot) SetCity(city string, at time.Time) bool {
	if city == "" || city == s.CityText {
		return false
	}
	s.CityText = city
	s.UpdatedAt = at
	return true
}

// SetRegion stores an extracted region. When confirmed is true the region
// is also flagged as confirmed by the caller.
func (s *LeadSnapshot) SetRegion(r Region, confirmed bool, at time.Time) bool {
	if r == "" || r == RegionUnknown {
		return false
	}
	if r == s.RegionValue && (!confirmed || s.RegionConfirmed) {
		return false
	}
	s.RegionValue = r
	if confirmed {
		s.RegionConfirmed = true
	}
	s.UpdatedAt = at
	return true
}

func (s *LeadSnapshot) SetBudgetBand(b BudgetBand, at time.Time) bool {
	if b == "" || b == BudgetUnknown || b == s.BudgetBand {
		return false
	}
	s.BudgetBand = b
	s.UpdatedAt = at
	return true
}

func (s *LeadSnapshot) SetTimeline(t TimelineBucket, at time.Time) bool {
	if t == "" || t == TimelineUnknown || t == s.TimelineBucket {
		return false
	}
	s.TimelineBucket = t
	s.UpdatedAt = at
	return true
}

func (s *LeadSnapshot) SetRoomSize(text string, at time.Time) bool {
	if text == "" || text == s.RoomSizeText {
		return false
	}
	s.RoomSizeText = text
	s.UpdatedAt = at
	return true
}

func (s *LeadSnapshot) SetEmail(email string, at time.Time) bool {
	if email == "" || email == s.Email {
		return false
	}
	s.Email = email
	s.UpdatedAt = at
	return true
}

// RecordQualification stores the rule outcome. The reasons are copied.
func (s *LeadSnapshot) RecordQualification(status QualificationStatus, reasons []QualificationReason, at time.Time) {
	s.QualificationStatus = status
	s.QualificationReasons = make([]QualificationReason, len(reasons))
	copy(s.QualificationReasons, reasons)
	s.UpdatedAt = at
}
