// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Provisioning group names can additionally
// be supplied in a YAML policy file.
//
// # Configuration Structure
//
// Server settings:
//
//	ONBOARD_HOST="0.0.0.0"
//	ONBOARD_PORT="8080"
//	ONBOARD_HEALTH_PORT="9090"
//
// Directory settings:
//
//	ONBOARD_DIRECTORY_MODE="keycloak"  # keycloak, memory
//	ONBOARD_DIRECTORY_URL="https://id.example.com"
//	ONBOARD_DIRECTORY_REALM="main"
//	ONBOARD_DIRECTORY_CLIENT_ID="onboard"
//	ONBOARD_DIRECTORY_CLIENT_SECRET="..."
//	ONBOARD_DIRECTORY_TOKEN_URL=""     # discovered when empty
//
// Invitation settings:
//
//	ONBOARD_APP_URL="https://app.example.com"
//	ONBOARD_INVITE_DEFAULT_EXPIRY="24h"
//	ONBOARD_INVITE_LOCK_ENABLED="false"  # requires ONBOARD_REDIS_URL
//	ONBOARD_CHANNELS_URL="https://channels.internal"
//	ONBOARD_POLICY_FILE="/etc/onboard/policy.yaml"
//
// Observability settings:
//
//	ONBOARD_LOG_LEVEL="info"  # debug, info, warn, error
//	ONBOARD_METRICS_ENABLED="true"
//	ONBOARD_OTEL_ENABLED="true"
//	ONBOARD_OTEL_ENDPOINT="otel-collector:4317"
//
// # Policy file
//
//	partner_group_names: [business-partners, partners]
//	admin_group_names: [admins]
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	policy, err := config.LoadProvisioningPolicy(cfg.PolicyFile)
package config
