package mgp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFit is matched by every NotFitError.
	ErrNotFit = errors.New("mgp: interaction map is not fit")

	// ErrInvalidGrid is wrapped by grid validation failures.
	ErrInvalidGrid = errors.New("mgp: invalid grid")

	// ErrShapeMismatch is wrapped when per-interaction contributions do not
	// cover the same training DOF.
	ErrShapeMismatch = errors.New("mgp: shape mismatch")
)

// ConfigurationError reports a kernel or interaction that is absent from, or
// inconsistent with, the training set's active configuration. It is fatal:
// there is no fallback.
type ConfigurationError struct {
	Kernel string
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Key != "" && e.Kernel != "":
		return fmt.Sprintf("mgp: configuration error: kernel %s, interaction %s: %s", e.Kernel, e.Key, e.Reason)
	case e.Kernel != "":
		return fmt.Sprintf("mgp: configuration error: kernel %s: %s", e.Kernel, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("mgp: configuration error: interaction %s: %s", e.Key, e.Reason)
	default:
		return "mgp: configuration error: " + e.Reason
	}
}

// NotFitError is returned when a map or surrogate is evaluated before Build.
type NotFitError struct {
	Key InteractionKey
}

func (e *NotFitError) Error() string {
	if e.Key.Order == 0 {
		return ErrNotFit.Error()
	}

	return fmt.Sprintf("%s: %s", ErrNotFit.Error(), e.Key)
}

// Is makes errors.Is(err, ErrNotFit) hold.
func (e *NotFitError) Is(target error) bool { return target == ErrNotFit }
