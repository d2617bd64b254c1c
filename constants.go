package nvme

import "github.com/ehrlich-b/go-nvme/internal/nvmeapi"

// Default tunables exposed to callers of Construct. The queue depths
// and block size are fixed by this core's design rather than
// negotiated with the device (spec.md's admin/IO queue depth Open
// Questions are resolved at the nvmeapi layer; these are just the
// public re-exports of that resolution).
const (
	// BlockSize is the logical block size Read/Write move, matching the
	// 512-byte blocks original_source's read_block/write_block operate on.
	BlockSize = 512

	// AdminQueueDepth mirrors nvmeapi.AdminQueueDepth.
	AdminQueueDepth = nvmeapi.AdminQueueDepth

	// IOQueueDepth mirrors nvmeapi.IOQueueDepth.
	IOQueueDepth = nvmeapi.IOQueueDepth

	// DefaultNamespaceID is the only namespace this core addresses.
	DefaultNamespaceID = 1
)
