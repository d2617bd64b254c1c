package nvmeapi

// Controller register offsets, relative to the PCIe BAR base address.
const (
	RegCAP   = 0x0000 // Controller Capabilities
	RegVS    = 0x0008 // Version
	RegINTMS = 0x000c // Interrupt Mask Set
	RegINTMC = 0x0010 // Interrupt Mask Clear
	RegCC    = 0x0014 // Controller Configuration
	RegCSTS  = 0x001c // Controller Status
	RegNSSR  = 0x0020 // NVM Subsystem Reset
	RegAQA   = 0x0024 // Admin Queue Attributes
	RegASQ   = 0x0028 // Admin SQ Base Address (64-bit)
	RegACQ   = 0x0030 // Admin CQ Base Address (64-bit)
	RegDBS   = 0x1000 // first doorbell register (SQ0 Tail)
)

// Controller Configuration (CC) bits.
const (
	CCEnable    = uint32(1) << 0
	CCCSSNVM    = uint32(0) << 4
	CCMPSShift  = 7
	CCArbRR     = uint32(0) << 11
	CCShnNone   = uint32(0) << 14
	CCIOSQES    = uint32(6) << 16 // 2^6 = 64-byte submission entries
	CCIOCQES    = uint32(4) << 20 // 2^4 = 16-byte completion entries
)

// Controller Status (CSTS) bits.
const (
	CSTSRdy = uint32(1) << 0
	CSTSCfs = uint32(1) << 1
)

// AdminQueueDepth is the actual allocated depth of the admin queue pair,
// fixed to match AQA = 0x001F001F (31/31, 0's-based -> depth 32).
const AdminQueueDepth = 32

// IOQueueDepth is the depth of the I/O queue pair.
const IOQueueDepth = 1024

// DoorbellStride is the byte stride between successive doorbell
// registers. CAP.DSTRD is never consulted; this core always assumes
// the minimum stride of 4 bytes.
const DoorbellStride = 4

// AQAValue is the Admin Queue Attributes register value this core always
// writes: bits 11:0 are admin SQ size (0's-based), bits 27:16 are admin
// CQ size (0's-based). AdminQueueDepth-1 = 31 in both halves.
const AQAValue = uint32(AdminQueueDepth-1) | uint32(AdminQueueDepth-1)<<16
