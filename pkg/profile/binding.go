package profile

import "fmt"

// Binding is the outcome of binding a resolved profile to a device whose
// channel set was previously bound under Current.
type Binding struct {
	Current  Category
	Resolved *Profile

	// Rebind is set when the host must replace the device's channel set.
	Rebind bool
}

// Bind compares the resolved profile's category with the current one.
// On mismatch it returns a Binding with Rebind set together with
// ErrProfileMismatch; performing the rebind is up to the caller. An empty
// current category binds without a mismatch.
func Bind(current Category, resolved *Profile) (Binding, error) {
	if resolved == nil {
		resolved = unknownProfile
	}
	b := Binding{Current: current, Resolved: resolved}
	if current == "" || current == resolved.Category {
		return b, nil
	}
	b.Rebind = true
	return b, fmt.Errorf("%w: bound %s, device %s is %s", ErrProfileMismatch, current, resolved.Model, resolved.Category)
}
