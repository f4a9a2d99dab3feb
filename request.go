package blkreactor

// Status is the terminal state of a request as delivered to its callback.
type Status int

const (
	// StatusPending means the request is still in flight.
	StatusPending Status = iota
	// StatusSuccess means the device completed the read.
	StatusSuccess
	// StatusFailed means the device reported an asynchronous error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompleteFunc receives a request's outcome. Ownership of buf transfers to
// the callback, which must release it exactly once. err is nil on success
// and a device-error on failure. Callbacks run on the owning work unit's
// execution context and must not block.
type CompleteFunc func(status Status, buf []byte, err error)

// request is one in-flight read. It is owned by its queue handle from
// SubmitRead until the completion callback fires.
type request struct {
	token  uint64
	lba    uint64
	blocks uint32
	buf    []byte
	done   CompleteFunc
}
