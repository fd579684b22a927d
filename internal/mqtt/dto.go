package mqtt

import (
	"time"

	"github.com/tphakala/twinplay/internal/audiocore"
)

// StatusMessage is the JSON payload published on every router status
// transition. Field names are part of the topic contract.
type StatusMessage struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Primary   string    `json:"primary,omitempty"`
	Secondary string    `json:"secondary,omitempty"`
	Format    string    `json:"format,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// NewStatusMessage converts a router status event to its wire form
func NewStatusMessage(ev audiocore.StatusEvent) StatusMessage {
	msg := StatusMessage{
		Status: ev.Status,
		State:  ev.State.String(),
		Time:   ev.Time.UTC(),
	}
	if ev.Session != nil {
		msg.SessionID = ev.Session.ID
		msg.Primary = ev.Session.Config.Primary.Name
		msg.Secondary = ev.Session.Config.Secondary.Name
		msg.Format = ev.Session.Config.Format.String()
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}
