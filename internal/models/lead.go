package models

import (
	"strings"
	"time"
)

// LeadStatus represents where a lead sits in the sales conversation.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "New"
	LeadStatusContacted LeadStatus = "Contacted"
	LeadStatusQualified LeadStatus = "Qualified"
	LeadStatusLost      LeadStatus = "Lost"
	LeadStatusWaiting   LeadStatus = "Waiting"
)

// LeadStatuses lists every lead status in display order.
var LeadStatuses = []LeadStatus{
	LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusWaiting, LeadStatusLost,
}

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	for _, v := range LeadStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseLeadStatus matches s case-insensitively against the known statuses.
func ParseLeadStatus(s string) (LeadStatus, bool) {
	for _, v := range LeadStatuses {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// Temperature is a qualitative urgency rating on a lead.
type Temperature string

const (
	TemperatureHot  Temperature = "Hot"
	TemperatureWarm Temperature = "Warm"
	TemperatureCold Temperature = "Cold"
)

var temperatures = []Temperature{TemperatureHot, TemperatureWarm, TemperatureCold}

func (t Temperature) Valid() bool {
	for _, v := range temperatures {
		if t == v {
			return true
		}
	}
	return false
}

// ParseTemperature matches s case-insensitively against Hot, Warm and Cold.
func ParseTemperature(s string) (Temperature, bool) {
	for _, v := range temperatures {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// LeadSource records where a lead came from.
type LeadSource string

const (
	LeadSourceZillow   LeadSource = "Zillow"
	LeadSourceFacebook LeadSource = "Facebook"
	LeadSourceReferral LeadSource = "Referral"
	LeadSourceWebsite  LeadSource = "Website"
	LeadSourceDirect   LeadSource = "Direct"
)

var leadSources = []LeadSource{
	LeadSourceZillow, LeadSourceFacebook, LeadSourceReferral, LeadSourceWebsite, LeadSourceDirect,
}

func (s LeadSource) Valid() bool {
	for _, v := range leadSources {
		if s == v {
			return true
		}
	}
	return false
}

func ParseLeadSource(s string) (LeadSource, bool) {
	for _, v := range leadSources {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// Interest is what the lead wants to do with a property.
type Interest string

const (
	InterestBuying  Interest = "Buying"
	InterestSelling Interest = "Selling"
	InterestRenting Interest = "Renting"
)

var interests = []Interest{InterestBuying, InterestSelling, InterestRenting}

func (i Interest) Valid() bool {
	for _, v := range interests {
		if i == v {
			return true
		}
	}
	return false
}

func ParseInterest(s string) (Interest, bool) {
	for _, v := range interests {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// NextAction is the next planned touchpoint with a lead.
type NextAction struct {
	Date      time.Time
	Task      string
	IsOverdue bool
}

// Lead is a prospective client not yet in a formal deal.
type Lead struct {
	ID          string
	OwnerID     string
	Name        string
	Phone       string
	Email       string
	Status      LeadStatus
	Source      LeadSource
	Interest    Interest
	Temperature Temperature
	Budget      string // free text, e.g. "₹3.73 Cr" or "₹4 Cr - ₹6 Cr"
	Tags        []string
	Notes       string
	NextAction  *NextAction
	History     []HistoryEntry // append-only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	c.Tags = append([]string(nil), l.Tags...)
	c.History = append([]HistoryEntry(nil), l.History...)
	if l.NextAction != nil {
		na := *l.NextAction
		c.NextAction = &na
	}
	return &c
}
