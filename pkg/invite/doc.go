// Package invite defines access invitations and their encodings.
//
// An invitation is never stored as a separate record. It lives in the
// attribute bag of the invited directory user under the access_invite_*
// keys, and Decode reconstructs it from there. Encode, ClearSecret and
// MarkAccepted are pure functions over that bag.
//
// # Tokens
//
// A token has the form <inviteId>.<userId>.<secret>. Only the hex SHA-256
// hash of the secret is stored, and TokenCodec.Verify compares it in
// constant time.
//
// # Lifecycle
//
//	PENDING ──accept──▶ ACCEPTED
//	   │
//	   └─ now >= expiresAt ─▶ reported as EXPIRED (never written)
package invite
