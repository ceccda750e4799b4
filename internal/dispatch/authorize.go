package dispatch

// authorize reports whether cmd's caller may perform action on resource
// (§6.1, §7 Conflict "STORE against a permission-denied event_type"),
// grounded on the Rust reference's permissions.rs admin-bypass check. No
// user store wired, or no AuthUser attached by the transport layer, both
// mean authorization is disabled upstream and every command is allowed —
// the dispatcher enforces permissions only when it has an identity and a
// store to check them against.
func (d *Dispatcher) authorize(cmd *Command, resource, action string) bool {
	if d.Users == nil || cmd.AuthUser == "" {
		return true
	}
	return d.Users.Authorized(cmd.AuthUser, resource, action)
}
