// Package errors contains the closed set of error kinds a staking run can fail with
package errors

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind defines the error kind
type Kind int

const (
	// KindUnknown is reported for errors that did not originate from this package
	KindUnknown Kind = iota
	// KindConfiguration The secret or an operator parameter is missing or invalid
	KindConfiguration
	// KindRouteUnavailable The bridge-routing service returned no usable route
	KindRouteUnavailable
	// KindQuoteMismatch The two swap quotes cannot share one allowance
	KindQuoteMismatch
	// KindInsufficientFunds The bridged balance does not cover the gas reserve
	KindInsufficientFunds
	// KindFeeShortfall The swapped gas-token output is below the estimated batch fee
	KindFeeShortfall
	// KindExecutionFailure The bridge or the batch was rejected by the network
	KindExecutionFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindRouteUnavailable:
		return "RouteUnavailable"
	case KindQuoteMismatch:
		return "QuoteMismatch"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindFeeShortfall:
		return "FeeShortfall"
	case KindExecutionFailure:
		return "ExecutionFailure"
	default:
		return "Unknown"
	}
}

// Field is one piece of diagnostic context attached to a RunError.
type Field struct {
	Key   string
	Value string
}

// F builds a Field, formatting the value with %v.
func F(key string, value any) Field {
	return Field{Key: key, Value: fmt.Sprint(value)}
}

// RunError is the error type returned by every stage of a run.
type RunError struct {
	Kind    Kind
	Stage   string
	Message string
	Context []Field
	Err     error
}

// Error method to comply with error interface
func (err *RunError) Error() string {
	var b strings.Builder
	b.WriteString(err.Kind.String())
	if err.Stage != "" {
		b.WriteString(" at ")
		b.WriteString(err.Stage)
	}
	b.WriteString(": ")
	b.WriteString(err.Message)
	if len(err.Context) > 0 {
		b.WriteString(" (")
		for i, f := range err.Context {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Key)
			b.WriteString("=")
			b.WriteString(f.Value)
		}
		b.WriteString(")")
	}
	if err.Err != nil {
		b.WriteString(": ")
		b.WriteString(err.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (err *RunError) Unwrap() error {
	return err.Err
}

// ZapFields returns the error kind, stage and context as log fields
func (err *RunError) ZapFields() []zap.Field {
	fields := make([]zap.Field, 0, len(err.Context)+2)
	fields = append(fields, zap.String("error_kind", err.Kind.String()))
	if err.Stage != "" {
		fields = append(fields, zap.String("stage", err.Stage))
	}
	for _, f := range err.Context {
		fields = append(fields, zap.String(f.Key, f.Value))
	}
	return fields
}

// Is checks that provided error is a RunError with desired Kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first RunError in the chain, or KindUnknown
func KindOf(err error) Kind {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return KindUnknown
}

// WithStage records the stage a RunError surfaced in. An already stamped stage is kept.
// Errors that are not RunErrors are returned unchanged.
func WithStage(err error, stage string) error {
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Stage == "" {
		runErr.Stage = stage
	}
	return err
}

// ExitCode maps an error to a process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindRouteUnavailable:
		return 3
	case KindQuoteMismatch:
		return 4
	case KindInsufficientFunds:
		return 5
	case KindFeeShortfall:
		return 6
	case KindExecutionFailure:
		return 7
	default:
		return 1
	}
}

func newError(kind Kind, err error, message string, ctx []Field) error {
	return &RunError{
		Kind:    kind,
		Message: message,
		Context: ctx,
		Err:     err,
	}
}

// ConfigurationError returns an error of kind KindConfiguration
func ConfigurationError(err error, message string, ctx ...Field) error {
	return newError(KindConfiguration, err, message, ctx)
}

// RouteUnavailableError returns an error of kind KindRouteUnavailable
func RouteUnavailableError(err error, message string, ctx ...Field) error {
	return newError(KindRouteUnavailable, err, message, ctx)
}

// QuoteMismatchError returns an error of kind KindQuoteMismatch
func QuoteMismatchError(err error, message string, ctx ...Field) error {
	return newError(KindQuoteMismatch, err, message, ctx)
}

// InsufficientFundsError returns an error of kind KindInsufficientFunds
func InsufficientFundsError(err error, message string, ctx ...Field) error {
	return newError(KindInsufficientFunds, err, message, ctx)
}

// FeeShortfallError returns an error of kind KindFeeShortfall
func FeeShortfallError(err error, message string, ctx ...Field) error {
	return newError(KindFeeShortfall, err, message, ctx)
}

// ExecutionFailureError returns an error of kind KindExecutionFailure
func ExecutionFailureError(err error, message string, ctx ...Field) error {
	return newError(KindExecutionFailure, err, message, ctx)
}
