// Package identity resolves who the current user is, what profile they carry,
// and which application modules they may enter, on top of a token-based auth
// provider and a persisted profile store.
//
// Session resolution:
//   - SessionResolver subscribes to provider auth events (sign in, token
//     refresh, sign out) and folds each one into a single ResolverState. Every
//     resolution is sequenced; a slow profile lookup that finishes after a
//     newer auth event is discarded rather than committed. Listeners receive
//     immutable state snapshots, never shared mutable structs.
//   - When the profile row is missing the resolver provisions one from the
//     identity's metadata, and when the store is unreachable it degrades to a
//     metadata-only user so the UI keeps working.
//
// Authorization:
//   - ModuleGuard turns a ResolverState plus a required Module into a pending,
//     unauthenticated, forbidden, or authorized decision. RouteGuard adapts
//     those decisions to HTTP, stashing the rejected route in a cookie so a
//     successful login can return the user to where they were headed.
//
// Presence:
//   - PresenceChannel tracks which users are online over a phoenix-style
//     realtime channel, deduplicating announcements per user and re-announcing
//     after reconnects. BindPresence ties it to the resolver so the presence
//     identity always follows the authenticated user.
package identity
