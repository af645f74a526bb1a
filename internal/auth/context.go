// ABOUTME: Context propagation of the authorized PermissionSet through handlers.
// ABOUTME: Provides WithPermissions/FromContext mirroring the standard context pattern.

package auth

import "context"

// permissionsKey is the key type for storing a PermissionSet in context.
type permissionsKey struct{}

// WithPermissions returns a new context with the permission set attached.
func WithPermissions(ctx context.Context, perms *PermissionSet) context.Context {
	return context.WithValue(ctx, permissionsKey{}, perms)
}

// FromContext retrieves the PermissionSet from the context, or nil if absent.
func FromContext(ctx context.Context) *PermissionSet {
	val := ctx.Value(permissionsKey{})
	if val == nil {
		return nil
	}
	perms, ok := val.(*PermissionSet)
	if !ok {
		return nil
	}
	return perms
}
