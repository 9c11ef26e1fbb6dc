// Package directory provides access to the identity directory that stores users,
// organizations, groups and realm roles.
//
// # Overview
//
// The Directory interface covers the admin operations the onboarding flow needs.
// Client talks to a Keycloak-compatible admin REST API and authenticates with the
// OAuth2 client credentials grant. MemoryDirectory is an in-process implementation
// used by tests and local development.
//
// # Usage
//
//	client, err := directory.NewClient(ctx, directory.ClientConfig{
//		BaseURL:      "https://id.example.com",
//		Realm:        "main",
//		ClientID:     "onboard",
//		ClientSecret: secret,
//	}, logger)
//	users, err := client.FindUsersByEmail(ctx, "jane@example.com")
//
// # Errors
//
// Lookups of missing entities return ErrNotFound. Creating an entity that
// already exists returns ErrConflict. Any other unexpected status is reported
// as a *StatusError.
package directory
