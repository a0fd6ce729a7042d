package identity

// HasUserUUID reports whether the session's subject is a parseable uuid.
// Sessions from legacy providers can carry opaque subjects like
// "provider|1234"; those users resolve metadata-only and cannot own a
// profile row.
func HasUserUUID(session Session) bool {
	if session == nil {
		return false
	}
	if _, err := session.GetUserUUID(); err != nil {
		return false
	}
	return true
}
