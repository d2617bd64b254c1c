// Package nvmeapi defines the byte-exact NVMe submission command and
// completion record layouts and the register/constant space the
// controller engine drives.
package nvmeapi

import "unsafe"

// Command is the 64-byte NVMe submission queue entry in its common
// layout (NVMe spec "Command Dword 0" through CDW15). Every specialized
// command view (read/write, create-cq, create-sq, identify,
// set-features) is expressed as a builder that packs its fields into
// this common layout at the CDW offsets the NVMe spec assigns them,
// rather than as a separate overlapping struct reinterpreted via
// unsafe casts.
type Command struct {
	Opcode    uint8
	Flags     uint8
	CommandID uint16
	NSID      uint32
	CDW2      [2]uint32
	Metadata  uint64
	PRP1      uint64
	PRP2      uint64
	CDW10     uint32
	CDW11     uint32
	CDW12     uint32
	CDW13     uint32
	CDW14     uint32
	CDW15     uint32
}

var _ [64]byte = [unsafe.Sizeof(Command{})]byte{}

// Completion is the 16-byte NVMe completion queue entry.
type Completion struct {
	Result    uint64
	SQHead    uint16
	SQID      uint16
	CommandID uint16
	Status    uint16
}

var _ [16]byte = [unsafe.Sizeof(Completion{})]byte{}

// Phase reports the completion's phase tag (bit 0 of Status).
func (c *Completion) Phase() uint16 {
	return c.Status & 1
}

// StatusCode reports the completion status excluding the phase bit.
func (c *Completion) StatusCode() uint16 {
	return c.Status &^ 1
}

// Opcodes used by the controller engine.
const (
	OpcodeWrite       = 0x01
	OpcodeRead        = 0x02
	OpcodeIdentify    = 0x06
	OpcodeCreateSQ    = 0x01 // admin-queue opcode space is distinct from NVM
	OpcodeCreateCQ    = 0x05
	OpcodeSetFeatures = 0x09
)

// Feature identifiers (CDW10 "FID" field of a Set Features command).
const (
	FeatArbitration = 0x01
	FeatPowerMgmt   = 0x02
	FeatLBARange    = 0x03
	FeatTempThresh  = 0x04
	FeatErrRecovery = 0x05
	FeatVolatileWC  = 0x06
	FeatNumQueues   = 0x07
	FeatIRQCoalesce = 0x08
	FeatIRQConfig   = 0x09
	FeatWriteAtomic = 0x0a
	FeatAsyncEvent  = 0x0b
	FeatSWProgress  = 0x0c
)

const (
	QueuePhysContig = uint16(1) << 0
	CQIRQEnabled    = uint16(1) << 1
	SQPrioUrgent    = uint16(0) << 1
)

// NewReadCommand builds a 512-byte-block read command targeting namespace 1.
// Mirrors the field values exercised by the original implementation's
// public read_block path: control=0x8000 (limited retry), dsmgmt=0x7
// (access frequency hint).
func NewReadCommand(commandID uint16, slba uint64, prp1 uint64) Command {
	var c Command
	c.Opcode = OpcodeRead
	c.NSID = 1
	c.CommandID = commandID
	c.PRP1 = prp1
	// slba spans CDW10 (low 32 bits) and CDW11 (high 32 bits)
	c.CDW10 = uint32(slba)
	c.CDW11 = uint32(slba >> 32)
	// length(u16)=0 (one block) | control(u16)=0x8000 packed into CDW12
	c.CDW12 = uint32(0) | uint32(0x8000)<<16
	c.CDW13 = 0x7 // dsmgmt
	return c
}

// NewWriteCommand builds a 512-byte-block write command targeting namespace 1.
func NewWriteCommand(commandID uint16, slba uint64, prp1 uint64) Command {
	var c Command
	c.Opcode = OpcodeWrite
	c.NSID = 1
	c.CommandID = commandID
	c.PRP1 = prp1
	c.CDW10 = uint32(slba)
	c.CDW11 = uint32(slba >> 32)
	c.CDW12 = 0
	c.CDW13 = 0
	return c
}

// NewSetQueueCountCommand builds the raw CDW10=0x7 Set Features command the
// controller engine issues to negotiate I/O queue counts during CreateIOQueue.
// This deliberately mirrors the original implementation's literal protocol
// step rather than routing through NewSetFeaturesCommand, since spec.md
// describes this exact raw encoding as a required step of the core's
// init sequence.
func NewSetQueueCountCommand(commandID uint16) Command {
	var c Command
	c.Opcode = OpcodeSetFeatures
	c.CommandID = commandID
	c.CDW10 = 0x7
	return c
}

// NewSetFeaturesCommand builds the public Set Features command with the
// real NVMe CDW10=fid / CDW11=dword11 layout.
func NewSetFeaturesCommand(commandID uint16, fid uint32, dword11 uint32) Command {
	var c Command
	c.Opcode = OpcodeSetFeatures
	c.CommandID = commandID
	c.CDW10 = fid
	c.CDW11 = dword11
	return c
}

// EncodeQueueCount packs the 0's-based (NSQR, NCQR) pair into the CDW11
// layout the Number of Queues feature (FID 0x07) defines: bits 15:0 are
// NSQR, bits 31:16 are NCQR, both requested-count-minus-one.
func EncodeQueueCount(nsq, ncq uint16) uint32 {
	return uint32(ncq-1)<<16 | uint32(nsq-1)
}

// NewCreateCQCommand builds an admin Create I/O Completion Queue command.
func NewCreateCQCommand(commandID uint16, prp1 uint64, cqid, qsize uint16) Command {
	var c Command
	c.Opcode = OpcodeCreateCQ
	c.CommandID = commandID
	c.PRP1 = prp1
	c.CDW10 = uint32(cqid) | uint32(qsize)<<16
	c.CDW11 = uint32(QueuePhysContig | CQIRQEnabled)
	return c
}

// NewCreateSQCommand builds an admin Create I/O Submission Queue command.
func NewCreateSQCommand(commandID uint16, prp1 uint64, sqid, qsize, cqid uint16) Command {
	var c Command
	c.Opcode = OpcodeCreateSQ
	c.CommandID = commandID
	c.PRP1 = prp1
	c.CDW10 = uint32(sqid) | uint32(qsize)<<16
	c.CDW11 = uint32(QueuePhysContig) | uint32(cqid)<<16
	return c
}

// NewIdentifyCommand builds an Identify admin command. cns selects
// Identify Namespace (0x00) vs Identify Controller (0x01).
func NewIdentifyCommand(commandID uint16, nsid uint32, prp1 uint64, cns uint8) Command {
	var c Command
	c.Opcode = OpcodeIdentify
	c.NSID = nsid
	c.CommandID = commandID
	c.PRP1 = prp1
	c.CDW10 = uint32(cns)
	return c
}

const (
	IdentifyCNSNamespace  uint8 = 0x00
	IdentifyCNSController uint8 = 0x01
)
