package scheduler

import (
	"time"

	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
)

// WireRequest is the scheduling payload exchanged with native hosts.
type WireRequest struct {
	ID          int32  `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	TriggerTime int64  `json:"triggerTime"`
	Kind        string `json:"kind,omitempty"`
}

type WireBatch struct {
	Alarms []WireRequest `json:"alarms"`
}

type WireBatchResult struct {
	Success   bool `json:"success"`
	Scheduled int  `json:"scheduled"`
}

func WireFromEntry(e Entry) WireRequest {
	return WireRequest{
		ID:          e.ID,
		Title:       e.Payload.Title,
		Body:        e.Payload.Body,
		TriggerTime: e.TriggerAt.UnixMilli(),
		Kind:        string(e.Kind),
	}
}

func WireFromRequest(r Request) WireRequest {
	return WireRequest{
		ID:          r.ID,
		Title:       r.Payload.Title,
		Body:        r.Payload.Body,
		TriggerTime: r.TriggerAt.UnixMilli(),
	}
}

// Request rebuilds a scheduling request; the reminder id and role are
// recovered from the namespace.
func (w WireRequest) Request(ns ids.Namespace) Request {
	payload := model.Payload{Title: w.Title, Body: w.Body}
	if rid, role, ok := ns.Decode(w.ID); ok {
		payload.ReminderID = rid
		payload.IsFollowUp = role == ids.RoleFollowUp
	}
	return Request{
		ID:        w.ID,
		TriggerAt: time.UnixMilli(w.TriggerTime).UTC(),
		Payload:   payload,
	}
}
