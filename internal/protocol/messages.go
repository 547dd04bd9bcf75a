package protocol

import "time"

// EnrollmentProgress is broadcast while a capture is running.
// Fractions for a single session are non-decreasing.
type EnrollmentProgress struct {
	SessionID string    `json:"session_id"`
	Fraction  float64   `json:"fraction"`
	Timestamp time.Time `json:"timestamp"`
}

// EnrollmentResult is broadcast when an enrollment finishes.
type EnrollmentResult struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	Embeddings int       `json:"embeddings"`
	Dimension  int       `json:"dimension"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProfileChanged announces a mutation of the speaker profile store.
type ProfileChanged struct {
	Name      string    `json:"name"`
	Change    string    `json:"change"` // saved, deleted, primary
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectEnrollProgress = "enroll.progress"
	SubjectEnrollResult   = "enroll.result"
	SubjectProfileChanged = "profile.changed"
)
