package auth

// IsInternalAdmin reports whether caller is the process itself. One-time
// administrative operations (tenant registration, package loading) require it.
func IsInternalAdmin(caller, self Principal) bool {
	return caller != Anonymous && caller == self
}

// IsTenant reports whether caller is the registered tenant.
func IsTenant(caller Principal, tenantID string) bool {
	return caller != Anonymous && tenantID != "" && string(caller) == tenantID
}

// IsController reports whether caller is the controller a shard is bound to.
func IsController(caller, controller Principal) bool {
	return caller != Anonymous && caller == controller
}
