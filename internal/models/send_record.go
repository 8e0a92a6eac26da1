package models

import "time"

// SendStatus is the per-record send state machine:
// pending -> sending -> {completed, failed}, terminal, never backward.
type SendStatus string

const (
	SendPending   SendStatus = "pending"
	SendSending   SendStatus = "sending"
	SendCompleted SendStatus = "completed"
	SendFailed    SendStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s SendStatus) Terminal() bool {
	return s == SendCompleted || s == SendFailed
}

// SendMode selects the backend delivery mode.
type SendMode string

const (
	ModeNormal SendMode = "normal"
	ModeTurbo  SendMode = "turbo"
)

// Code is the numeric mode the backend expects on the wire.
func (m SendMode) Code() int {
	if m == ModeTurbo {
		return 2
	}
	return 1
}

// SendRecord is one SMS batch job. Created client-side on submit with a
// stable generated ID, reconciled in place when the server responds.
type SendRecord struct {
	ID             string     `json:"id"`
	Recipient      string     `json:"recipient"`
	RequestedCount int        `json:"requested_count"`
	Mode           SendMode   `json:"mode"`
	Status         SendStatus `json:"status"`
	SuccessCount   int        `json:"success_count"`
	FailedCount    int        `json:"failed_count"`
	CreatedAt      time.Time  `json:"created_at"`
}
