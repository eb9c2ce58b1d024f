package errors

import (
	"context"
	"fmt"

	"bmvlink/pkg/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{
		diagnosticPublisher: publisher,
	}
}

// Handle processes an error with appropriate logging and diagnostics.
// One bad call site's error must not stop the frame/response loop, so this
// always returns to the caller regardless of severity.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *FrameChecksumError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("frame %q", e.Frame))
	case *CommandChecksumError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("fragment %q", e.Fragment))
	case *DeviceStateError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("identifier %s state 0x%02X", e.Identifier, e.State))
	case *TimeoutError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("identifier %s after %d attempts", e.Identifier, e.Attempts))
	case *PortError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("port %s", e.Device))
	case *ConfigError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("field %s", e.Field))
	case *ValidationError:
		h.handleTyped(ctx, &e.DriverError, fmt.Sprintf("field %s", e.Field))
	case *DriverError:
		h.handleTyped(ctx, e, "")
	default:
		h.handleGenericError(ctx, err)
	}
}

func (h *ErrorHandler) handleTyped(ctx context.Context, e *DriverError, detail string) {
	switch e.Severity {
	case SeverityCritical:
		logger.LogError("CRITICAL %s: %s", e.Op, e.Error())
	case SeverityError:
		logger.LogError("%s: %s", e.Op, e.Error())
	case SeverityWarning:
		logger.LogWarn("%s: %s", e.Op, e.Error())
	default:
		logger.LogInfo("%s: %s", e.Op, e.Error())
	}

	if h.diagnosticPublisher != nil {
		message := e.Op
		if detail != "" {
			message = fmt.Sprintf("%s: %s", e.Op, detail)
		}
		if publishErr := h.diagnosticPublisher.PublishDiagnostic(ctx, e.Code, message); publishErr != nil {
			logger.LogDebug("failed to publish error diagnostic: %v", publishErr)
		}
	}
}

// handleGenericError handles non-typed errors
func (h *ErrorHandler) handleGenericError(ctx context.Context, err error) {
	logger.LogError("untyped error: %v", err)

	if h.diagnosticPublisher != nil {
		if publishErr := h.diagnosticPublisher.PublishDiagnostic(ctx, 99, err.Error()); publishErr != nil {
			logger.LogDebug("failed to publish generic error diagnostic: %v", publishErr)
		}
	}
}

// IsRecoverable returns true if the error is recoverable. Per the
// protocol's own failure design, only configuration errors and
// critical-severity conditions are treated as non-recoverable; checksum
// failures, device refusals and timeouts are all steady-state events.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	switch e := err.(type) {
	case *ConfigError:
		return false
	case *DriverError:
		return e.Severity != SeverityCritical
	case *FrameChecksumError:
		return e.Severity != SeverityCritical
	case *CommandChecksumError:
		return e.Severity != SeverityCritical
	case *DeviceStateError:
		return e.Severity != SeverityCritical
	case *TimeoutError:
		return e.Severity != SeverityCritical
	case *PortError:
		return e.Severity != SeverityCritical
	default:
		return true
	}
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}

	switch e := err.(type) {
	case *FrameChecksumError:
		return e.Code
	case *CommandChecksumError:
		return e.Code
	case *DeviceStateError:
		return e.Code
	case *TimeoutError:
		return e.Code
	case *PortError:
		return e.Code
	case *ConfigError:
		return e.Code
	case *ValidationError:
		return e.Code
	case *DriverError:
		return e.Code
	default:
		return 99
	}
}
