// Package policy evaluates capability checks against object policies.
package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Capability names an action a viewer may take on an object.
type Capability string

const (
	CanView Capability = "view"
	CanEdit Capability = "edit"
)

// Global policy values. Any other non-empty value is treated as the PHID of
// the single user the policy admits.
const (
	Public = "public"
	Users  = "users"
	Admins = "admin"
	NoOne  = "no-one"
)

// ErrPermissionDenied is returned by Require when a check fails.
var ErrPermissionDenied = errors.New("permission denied")

// Viewer is the acting user. A nil Viewer is an anonymous visitor.
type Viewer interface {
	ViewerPHID() string
	IsAdministrator() bool
}

// Object is anything with per-capability policies.
type Object interface {
	Capabilities() []Capability
	Policy(c Capability) string
	HasAutomaticCapability(c Capability, viewer Viewer) bool
}

// AutomaticCapabilityDescriber optionally explains automatic capabilities in
// permission errors.
type AutomaticCapabilityDescriber interface {
	DescribeAutomaticCapability(c Capability) string
}

type omnipotentViewer struct{}

func (omnipotentViewer) ViewerPHID() string    { return "" }
func (omnipotentViewer) IsAdministrator() bool { return true }

// Omnipotent returns a viewer that passes every check. Used by CLI
// maintenance commands and internal jobs.
func Omnipotent() Viewer { return omnipotentViewer{} }

// IsOmnipotent reports whether v is the omnipotent viewer.
func IsOmnipotent(v Viewer) bool {
	_, ok := v.(omnipotentViewer)
	return ok
}

// HasCapability reports whether viewer has capability c on obj.
func HasCapability(viewer Viewer, obj Object, c Capability) bool {
	if IsOmnipotent(viewer) {
		return true
	}
	if !slices.Contains(obj.Capabilities(), c) {
		return false
	}
	if viewer != nil && obj.HasAutomaticCapability(c, viewer) {
		return true
	}
	return Passes(viewer, obj.Policy(c))
}

// Passes reports whether viewer satisfies a single policy value.
func Passes(viewer Viewer, value string) bool {
	if IsOmnipotent(viewer) {
		return true
	}
	loggedIn := viewer != nil && viewer.ViewerPHID() != ""
	switch value {
	case Public:
		return true
	case Users:
		return loggedIn
	case Admins:
		return loggedIn && viewer.IsAdministrator()
	case NoOne, "":
		return false
	default:
		return loggedIn && viewer.ViewerPHID() == value
	}
}

// Require returns an ErrPermissionDenied-wrapping error when the check fails.
func Require(viewer Viewer, obj Object, c Capability) error {
	if HasCapability(viewer, obj, c) {
		return nil
	}
	var extra string
	if d, ok := obj.(AutomaticCapabilityDescriber); ok {
		if desc := d.DescribeAutomaticCapability(c); desc != "" {
			extra = " (" + desc + ")"
		}
	}
	return fmt.Errorf("%w: requires %q capability, policy is %q%s", ErrPermissionDenied, c, obj.Policy(c), extra)
}

// Filter returns the objects viewer holds capability c on, preserving order.
func Filter[T Object](viewer Viewer, objects []T, c Capability) []T {
	var out []T
	for _, o := range objects {
		if HasCapability(viewer, o, c) {
			out = append(out, o)
		}
	}
	return out
}

// IsValid reports whether value is a recognized policy value.
func IsValid(value string) bool {
	switch value {
	case Public, Users, Admins, NoOne:
		return true
	}
	return strings.HasPrefix(value, "PHID-USER-")
}
