// Package engerr gives the engine a small, closed taxonomy of error
// kinds instead of ad hoc sentinel values, each carrying its own
// logging severity and propagation rule per spec.md §7. Grounded on
// the teacher's kernel/utils/errors.go (a flat named-error table),
// generalized into a wrapped, kind-tagged error type; logging goes
// through go.uber.org/zap rather than the teacher's hand-rolled
// logger (kernel/utils/logger.go).
package engerr

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Kind classifies an error by how it must be reported and propagated.
type Kind int

const (
	// ProgrammingError covers failed assertions, duplicate requests,
	// and use-after-free: fatal, logged CRITICAL_ERROR.
	ProgrammingError Kind = iota
	// IOError covers missing files and short reads: local failure.
	IOError
	// ParseError covers deserialize/parse failures: the artifact is
	// rejected and prior state left intact.
	ParseError
	// BuildRuleFailure covers a transient build-rule failure: rollback
	// secondary outputs, continue with the next target.
	BuildRuleFailure
	// PlatformUnsupported marks a resource unsupported on the current
	// platform; only an error if a non-platform-optional reference
	// depends on it.
	PlatformUnsupported
	// RenderBackendFailure covers device-lost/allocation-failure in
	// the render backend: the caller gets a sentinel handle back.
	RenderBackendFailure
	// HotReloadConflict covers a migration conflict during hot
	// reload: the old instance is retained.
	HotReloadConflict
)

func (k Kind) String() string {
	switch k {
	case ProgrammingError:
		return "programming_error"
	case IOError:
		return "io_error"
	case ParseError:
		return "parse_error"
	case BuildRuleFailure:
		return "build_rule_failure"
	case PlatformUnsupported:
		return "platform_unsupported"
	case RenderBackendFailure:
		return "render_backend_failure"
	case HotReloadConflict:
		return "hot_reload_conflict"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind abort the process rather
// than propagate locally.
func (k Kind) Fatal() bool { return k == ProgrammingError }

// Error wraps an underlying cause with the operation that produced it
// and the kind that governs how it must be reported.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err wraps an *Error of kind k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// KindOf extracts the Kind from err, if it (or something it wraps) is
// an *Error; ok is false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Log reports err at the severity its kind demands, and — for a
// ProgrammingError — triggers the fatal path described in spec.md §7:
// abort in non-interactive mode. This package never decides
// interactivity; callers running in an interactive shell should catch
// the panic themselves and offer Abort/Debug/Skip/Skip-all.
func Log(logger *zap.Logger, err error) {
	kind, ok := KindOf(err)
	if !ok {
		logger.Error("unclassified error", zap.Error(err))
		return
	}
	switch kind {
	case ProgrammingError:
		logger.Error("CRITICAL_ERROR", zap.String("kind", kind.String()), zap.Error(err))
		panic(err)
	case IOError, ParseError, BuildRuleFailure, RenderBackendFailure:
		logger.Error(kind.String(), zap.Error(err))
	case PlatformUnsupported:
		logger.Info(kind.String(), zap.Error(err))
	case HotReloadConflict:
		logger.Warn(kind.String(), zap.Error(err))
	}
}
