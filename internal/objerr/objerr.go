// Package objerr defines the error taxonomy shared by every core
// subsystem (codec, placement, osd, gateway). Every internal operation
// returns a typed *Error rather than a bare fmt.Errorf so callers at the
// edge of the system (the frontend, a future S3 layer) can map Kind to a
// status code without string matching.
package objerr

import "fmt"

// Kind classifies the failure so callers can decide how to react without
// inspecting the error string.
type Kind int

const (
	// Unknown is the zero value; never returned intentionally.
	Unknown Kind = iota
	BadInput
	NotFound
	Corrupt
	InsufficientShards
	Quorum
	Conflict
	NotPrimary
	Overloaded
	Timeout
	TopologyChanged
	Fatal
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "bad_input"
	case NotFound:
		return "not_found"
	case Corrupt:
		return "corrupt"
	case InsufficientShards:
		return "insufficient_shards"
	case Quorum:
		return "quorum"
	case Conflict:
		return "conflict"
	case NotPrimary:
		return "not_primary"
	case Overloaded:
		return "overloaded"
	case Timeout:
		return "timeout"
	case TopologyChanged:
		return "topology_changed"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the structured error every internal package returns.
type Error struct {
	Kind Kind
	Op   string // e.g. "codec.Decode", "osd.WriteShard"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed error, optionally wrapping a cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		break
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Unknown
}

// InsufficientShardsInfo carries the detail the spec requires for this
// particular Kind: how many shards were available vs. how many were
// required to decode.
type InsufficientShardsInfo struct {
	Available int
	Required  int
}

func (i InsufficientShardsInfo) Error() string {
	return fmt.Sprintf("insufficient shards: available=%d required=%d", i.Available, i.Required)
}

// QuorumInfo carries the detail required for a StripeWriteFailed report.
type QuorumInfo struct {
	StripeID uint64
	Acks     int
	Needed   int
}

func (q QuorumInfo) Error() string {
	return fmt.Sprintf("stripe %d write failed: acks=%d needed=%d", q.StripeID, q.Acks, q.Needed)
}
