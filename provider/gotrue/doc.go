// Package gotrue implements identity.Provider against a GoTrue server.
//
// The client owns the credential lifecycle: password grant, scheduled token
// refresh, sign out, and the auth event stream the session resolver consumes.
package gotrue
