package models

import (
	"strings"
	"time"
)

// HistoryType classifies a lead timeline entry.
type HistoryType string

const (
	HistoryCall     HistoryType = "Call"
	HistoryEmail    HistoryType = "Email"
	HistoryMeeting  HistoryType = "Meeting"
	HistoryNote     HistoryType = "Note"
	HistoryWhatsApp HistoryType = "WhatsApp"
	HistorySystem   HistoryType = "System"
)

var historyTypes = []HistoryType{
	HistoryCall, HistoryEmail, HistoryMeeting, HistoryNote, HistoryWhatsApp, HistorySystem,
}

func (t HistoryType) Valid() bool {
	for _, v := range historyTypes {
		if t == v {
			return true
		}
	}
	return false
}

func ParseHistoryType(s string) (HistoryType, bool) {
	for _, v := range historyTypes {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// HistoryEntry is one item on a lead's timeline.
type HistoryEntry struct {
	ID      string
	Type    HistoryType
	At      time.Time
	Summary string
	User    string
}
