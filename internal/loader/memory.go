package loader

import "github.com/pbnjay/memory"

// autoSize picks a batch size from available system memory, the same
// probe-then-pick idiom the teacher's pipeline uses to size internal
// buffers without a configured budget.
func autoSize() int {
	total := memory.TotalMemory()
	switch {
	case total == 0:
		return defaultBatchSize
	case total < 2<<30: // <2GiB
		return minBatchSize * 10
	case total < 8<<30: // <8GiB
		return defaultBatchSize
	default:
		return maxBatchSize / 2
	}
}
