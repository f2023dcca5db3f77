package model

import "time"

// Answer is an agency's reply to a trip alert.
type Answer string

const (
	AnswerAccept  Answer = "ACCEPT"
	AnswerDecline Answer = "DECLINE"
)

// AgencyResponse is one agency's reply to one trip. There is at most one row
// per (trip, agency) pair; resubmissions mutate it in place. Among all
// responses to a trip at most one may be selected, and only an ACCEPT.
type AgencyResponse struct {
	ID          string
	TripID      string
	AgencyID    string
	Answer      Answer
	Notes       string
	Selected    bool
	UnitID      *string
	RespondedAt time.Time
}
