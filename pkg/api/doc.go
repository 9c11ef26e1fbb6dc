// Package api exposes the invitation service over HTTP.
//
// Routes:
//
//	POST /api/v1/orgs/{org_id}/invitations        create an invitation (201)
//	GET  /api/v1/orgs/{org_id}/invitations        list invitations, newest first
//	GET  /api/v1/orgs/{org_id}/invitations/stats  count invitations by type and status
//	POST /api/v1/invitations/accept               redeem a token
//
// Errors are written as httputil.ErrorResponse. Server-side failures never
// echo internal error text; acceptance failures that could reveal whether an
// invitation exists share one message.
package api
