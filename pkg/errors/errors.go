// Package errors provides the structured error and warning types used
// throughout prego. Fatal conditions are returned as errors carrying
// stack traces via cockroachdb/errors; recoverable anomalies (degenerate
// samples, singular penalty paths) are routed through a process-wide
// warning handler so a fit can degrade instead of aborting.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("prego warning: %v\n", w)
	}
)

// SetWarningHandler replaces the handler invoked for every non-fatal
// warning (DegenerateSampleWarning, SingularDesignWarning, ...).
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// Warn reports a recoverable condition through the configured handler.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ConfigError reports an invalid fit configuration. It is fatal and is
// raised before any tree is grown.
type ConfigError struct {
	Param  string
	Reason string
	Value  interface{}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("prego: invalid configuration for %q: %s (got: %v)", e.Param, e.Reason, e.Value)
}

// MarshalZerologObject adds the structured configuration context to a
// zerolog event.
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param", e.Param).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ConfigError")
}

// NewConfigError creates a ConfigError with a stack trace attached.
func NewConfigError(param, reason string, value interface{}) error {
	err := &ConfigError{Param: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// NotFittedError is returned when Predict or Save is called on an
// estimator whose Fit has not completed.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("prego: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error context to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a NotFittedError with a stack trace attached.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DimensionError reports a shape mismatch between matrices or vectors.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("prego: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error context to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError creates a DimensionError with a stack trace attached.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// ValueError reports an argument whose value (rather than shape) is
// unusable for the requested operation.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("prego: %s: %s", e.Op, e.Message)
}

// NewValueError creates a ValueError with a stack trace attached.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// DegenerateSampleWarning is emitted when a tree-growing iteration sees
// a zero-variance working response. The iteration yields a single-leaf
// tree and the ensemble loop continues.
type DegenerateSampleWarning struct {
	Iteration int
	Column    int
}

func (w *DegenerateSampleWarning) Error() string {
	return fmt.Sprintf("degenerate sample at iteration %d (response column %d): constant working response, emitting single-leaf tree", w.Iteration, w.Column)
}

// MarshalZerologObject adds the structured warning context to a zerolog event.
func (w *DegenerateSampleWarning) MarshalZerologObject(event *zerolog.Event) {
	event.Int("iteration", w.Iteration).
		Int("column", w.Column).
		Str("type", "DegenerateSampleWarning")
}

// NewDegenerateSampleWarning creates a DegenerateSampleWarning.
func NewDegenerateSampleWarning(iteration, column int) *DegenerateSampleWarning {
	return &DegenerateSampleWarning{Iteration: iteration, Column: column}
}

// SingularDesignWarning is emitted when the penalized fit cannot
// converge at the smallest penalties on the path. The largest feasible
// penalty is substituted for the requested one.
type SingularDesignWarning struct {
	RequestedLambda float64
	UsedLambda      float64
}

func (w *SingularDesignWarning) Error() string {
	return fmt.Sprintf("singular design: no solution at lambda=%.6g, substituting lambda=%.6g", w.RequestedLambda, w.UsedLambda)
}

// MarshalZerologObject adds the structured warning context to a zerolog event.
func (w *SingularDesignWarning) MarshalZerologObject(event *zerolog.Event) {
	event.Float64("requested_lambda", w.RequestedLambda).
		Float64("used_lambda", w.UsedLambda).
		Str("type", "SingularDesignWarning")
}

// NewSingularDesignWarning creates a SingularDesignWarning.
func NewSingularDesignWarning(requested, used float64) *SingularDesignWarning {
	return &SingularDesignWarning{RequestedLambda: requested, UsedLambda: used}
}

// ConvergenceWarning is emitted when an iterative solver stops at its
// iteration cap without meeting its tolerance.
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations", w.Algorithm, w.Iterations)
}

// MarshalZerologObject adds the structured warning context to a zerolog event.
func (w *ConvergenceWarning) MarshalZerologObject(event *zerolog.Event) {
	event.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning creates a ConvergenceWarning.
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap annotates err with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack attaches a stack trace to err.
func WithStack(err error) error {
	return errors.WithStack(err)
}

var (
	// ErrEmptyData is returned when a fit or metric receives no rows.
	ErrEmptyData = New("empty data")
)
