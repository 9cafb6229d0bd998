package models

import (
	"strings"
	"time"
)

// Stage is a deal's position in the pipeline.
type Stage string

const (
	StageNegotiation   Stage = "negotiation"
	StageDocumentation Stage = "documentation"
	StagePayment       Stage = "payment"
	StageClosed        Stage = "closed"
)

// Stages lists the pipeline in order.
var Stages = []Stage{StageNegotiation, StageDocumentation, StagePayment, StageClosed}

func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of s in the pipeline, or -1 if unknown.
func (s Stage) Index() int {
	for i, v := range Stages {
		if s == v {
			return i
		}
	}
	return -1
}

func ParseStage(s string) (Stage, bool) {
	for _, v := range Stages {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// DealSource is the acquisition channel recorded on a deal.
type DealSource string

const (
	DealSourceWeb      DealSource = "Web"
	DealSourceReferral DealSource = "Referral"
	DealSourceZillow   DealSource = "Zillow"
	DealSourceAds      DealSource = "Ads"
)

var dealSources = []DealSource{DealSourceWeb, DealSourceReferral, DealSourceZillow, DealSourceAds}

func (s DealSource) Valid() bool {
	for _, v := range dealSources {
		if s == v {
			return true
		}
	}
	return false
}

func ParseDealSource(s string) (DealSource, bool) {
	for _, v := range dealSources {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// DealSourceFor maps a lead's source onto the deal source vocabulary.
func DealSourceFor(ls LeadSource) DealSource {
	switch ls {
	case LeadSourceZillow:
		return DealSourceZillow
	case LeadSourceFacebook:
		return DealSourceAds
	case LeadSourceReferral, LeadSourceDirect:
		return DealSourceReferral
	default:
		return DealSourceWeb
	}
}

// DealTask is one checklist item on a deal.
type DealTask struct {
	ID    string
	Label string
	Done  bool
}

// Deal is an active transaction moving through the pipeline.
type Deal struct {
	ID              string
	OwnerID         string
	LeadID          string
	Title           string
	Value           string // display form of NumericValue
	NumericValue    int64  // rupees
	Source          DealSource
	Stage           Stage
	LastTouch       string
	DaysInStage     int
	Completion      int // 0-100, advisory
	Tasks           []DealTask
	IsUrgent        bool
	PropertyAddress string
	StageChangedAt  time.Time
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	c.Tasks = append([]DealTask(nil), d.Tasks...)
	if d.ClosedAt != nil {
		t := *d.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
