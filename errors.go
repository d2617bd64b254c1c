package nvme

import "github.com/ehrlich-b/go-nvme/internal/ctrl"

// Error is the structured error type Construct and its configuration-time
// steps return. It is a type alias rather than a wrapper so a caller's
// `var target *nvme.Error; errors.As(err, &target)` sees exactly what the
// controller engine produced, without an extra unwrap hop.
type Error = ctrl.Error

// Error codes, re-exported from the engine that defines them.
const (
	CodeNotReady     = ctrl.CodeNotReady
	CodeFatalStatus  = ctrl.CodeFatalStatus
	CodeInvalidState = ctrl.CodeInvalidState
	CodeInvalidArg   = ctrl.CodeInvalidArg
)
