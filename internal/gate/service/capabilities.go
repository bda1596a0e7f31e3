package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Frame is one captured image, passed opaquely from Capture to Extractor.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Capture returns the current frame.  ok is false when no usable frame is
// available; err is reserved for transport failures.
type Capture interface {
	AcquireFrame(ctx context.Context) (f Frame, ok bool, err error)
}

// Extractor turns a frame into a face encoding.  ok is false when no face
// was found.
type Extractor interface {
	FeatureVector(ctx context.Context, f Frame) (v types.Vector, ok bool, err error)
}

// CardReader is the raw line source behind the CardPoller.  Poll must not
// block.  A reader that is not attached reports Present() == false and
// never yields a line.
type CardReader interface {
	Poll() (line string, ok bool)
	ResetBuffers()
	Present() bool
}

// LockActuator opens the door.  The engine does not wait for any
// acknowledgement beyond the returned error.
type LockActuator interface {
	Open(ctx context.Context) error
}

// Operator answers the bind offer made when a recognized identity presents
// a card for the first time.
type Operator interface {
	ConfirmBind(ctx context.Context, ident types.Identity, cardUID string) (bool, error)
}

// StaticOperator gives the same answer to every bind offer.  It serves
// callers that decide up front, such as the HTTP API.
type StaticOperator bool

func (o StaticOperator) ConfirmBind(context.Context, types.Identity, string) (bool, error) {
	return bool(o), nil
}
