package inference

import (
	"context"
	"time"
)

// Status is the binary safety verdict shown to the user.
type Status int

const (
	StatusSafe Status = iota
	StatusDistracted
)

// SafeClassID is the classifier's "safe driving" class.
const SafeClassID = 0

func (s Status) String() string {
	if s == StatusSafe {
		return "safe"
	}
	return "distracted"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusForClass maps a class identifier to a verdict. Only the safe
// driving class is Safe; every other class is a distraction.
func StatusForClass(classID int) Status {
	if classID == SafeClassID {
		return StatusSafe
	}
	return StatusDistracted
}

// Result is the normalized outcome of one inference call.
type Result struct {
	ClassID    int       `json:"class_id"`
	Label      string    `json:"label"`
	Status     Status    `json:"status"`
	Confidence *float64  `json:"confidence"`
	ReceivedAt time.Time `json:"received_at"`
}

// Media is one sample to classify: an uploaded image or a captured frame.
type Media struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mode labels metrics by where the sample came from.
type Mode string

const (
	ModeImage Mode = "image"
	ModeFrame Mode = "frame"
)

type modeKey struct{}

// WithMode tags ctx so the client can label its metrics.
func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

func modeFrom(ctx context.Context) Mode {
	if m, ok := ctx.Value(modeKey{}).(Mode); ok {
		return m
	}
	return ModeImage
}
