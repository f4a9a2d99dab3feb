package blkreactor

// DMAAlignment is the address boundary an I/O buffer must start on for
// zero-copy transfer to the device.
const DMAAlignment = 4096

const (
	// DefaultQueueDepth is the per-queue outstanding request limit used
	// when a WorkUnitSpec does not set one.
	DefaultQueueDepth = 128

	// DefaultBlockSize is the logical block size assumed by reference
	// device implementations that are not told otherwise.
	DefaultBlockSize = 4096

	// UnpinnedCore requests a reactor that is not bound to any core.
	UnpinnedCore = -1
)

// completionBatch is how many completions a queue handle asks the device
// for in one poll call.
const completionBatch = 64
