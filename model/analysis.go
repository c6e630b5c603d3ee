package model

import (
	"time"
)

// Analysis tracks one uploaded contract through the asynchronous pipeline
type Analysis struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Tenant    string    `json:"tenant"`
	Size      int64     `json:"size"`
	Status    string    `json:"status"` // pending, processing, completed, unclassified, failed
	Stage     string    `json:"stage,omitempty"`
	Report    *Report   `json:"report,omitempty"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Analysis status constants
const (
	StatusPending      = "pending"
	StatusProcessing   = "processing"
	StatusCompleted    = "completed"
	StatusUnclassified = "unclassified"
	StatusFailed       = "failed"
)
