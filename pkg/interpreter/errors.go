package interpreter

import (
	"errors"
	"fmt"
)

var (
	// ErrClosedResource matches every ClosedResourceError via errors.Is
	ErrClosedResource = errors.New("resource closed")

	// ErrSettingNotFound is returned for an unknown setting id
	ErrSettingNotFound = errors.New("setting not found")

	// ErrDuplicateSetting is returned when adding a setting id twice
	ErrDuplicateSetting = errors.New("setting already exists")

	// ErrUnknownCapability is returned when a setting does not offer a capability
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrSessionNotFound is returned when a tenant holds no open session
	ErrSessionNotFound = errors.New("session not found")
)

// ClosedResourceError is returned for any call through a proxy or group
// whose process has been stopped
type ClosedResourceError struct {
	Resource string
	Reason   string
}

func (e *ClosedResourceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is closed", e.Resource)
	}
	return fmt.Sprintf("%s is closed: %s", e.Resource, e.Reason)
}

// Is matches ErrClosedResource
func (e *ClosedResourceError) Is(target error) bool {
	return target == ErrClosedResource
}

func closedError(resource, reason string) error {
	return &ClosedResourceError{Resource: resource, Reason: reason}
}
