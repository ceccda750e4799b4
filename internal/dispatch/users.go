package dispatch

import (
	"context"
	"fmt"
)

// handleCreateUser registers a new administrative principal (§6.1),
// grounded on the Rust reference's handlers/auth.rs admin-only gate:
// only an already-authorized "*"-holding user (or an unauthenticated
// bypass session) may create another user.
func (d *Dispatcher) handleCreateUser(ctx context.Context, cmd *Command) (*Response, error) {
	if d.Users == nil {
		return ErrorResponse(StatusServiceUnavailable, "user management is not enabled"), nil
	}
	if !d.authorize(cmd, "*", "admin") {
		return ErrorResponse(StatusForbidden, "only admin users can create users"), nil
	}
	if cmd.Username == "" {
		return ErrorResponse(StatusBadRequest, "CREATE USER requires a username"), nil
	}
	if err := d.Users.CreateUser(cmd.Username, cmd.Password); err != nil {
		return ErrorResponse(StatusInternalError, err.Error()), nil
	}
	if d.Tokens == nil {
		return OKLines(fmt.Sprintf("User '%s' created", cmd.Username)), nil
	}
	// Mint an initial session token so the new user has a bearer credential
	// to present to the frontend (§6.5 AuthConfig) without a separate LOGIN
	// command; permissions start empty until GRANT adds some.
	token, err := d.Tokens.GenerateJWT(cmd.Username, cmd.Username, nil)
	if err != nil {
		return OKLines(fmt.Sprintf("User '%s' created (token issuance failed: %v)", cmd.Username, err)), nil
	}
	return OKLines(
		fmt.Sprintf("User '%s' created", cmd.Username),
		fmt.Sprintf("Token: %s", token),
	), nil
}

// handleGrant adds a permission to a user (§6.1, §7 Conflict "STORE
// against a permission-denied event_type").
func (d *Dispatcher) handleGrant(ctx context.Context, cmd *Command) (*Response, error) {
	if d.Users == nil {
		return ErrorResponse(StatusServiceUnavailable, "user management is not enabled"), nil
	}
	if !d.authorize(cmd, "*", "admin") {
		return ErrorResponse(StatusForbidden, "only admin users can grant permissions"), nil
	}
	if err := d.Users.Grant(cmd.Username, cmd.Permission); err != nil {
		return ErrorResponse(StatusBadRequest, err.Error()), nil
	}
	return OKLines(fmt.Sprintf("Granted '%s' to '%s'", cmd.Permission, cmd.Username)), nil
}

// handleRevoke removes a permission from a user (§6.1).
func (d *Dispatcher) handleRevoke(ctx context.Context, cmd *Command) (*Response, error) {
	if d.Users == nil {
		return ErrorResponse(StatusServiceUnavailable, "user management is not enabled"), nil
	}
	if !d.authorize(cmd, "*", "admin") {
		return ErrorResponse(StatusForbidden, "only admin users can revoke permissions"), nil
	}
	if err := d.Users.Revoke(cmd.Username, cmd.Permission); err != nil {
		return ErrorResponse(StatusBadRequest, err.Error()), nil
	}
	return OKLines(fmt.Sprintf("Revoked '%s' from '%s'", cmd.Permission, cmd.Username)), nil
}
