// Package provisioning implements device onboarding for VoltGrid Core.
//
// Devices enter the registry through direct registration or by redeeming a
// registration code, typically delivered as a QR-encoded URL on the
// installer's work order. Codes may be bound to a device type and a
// provisioning template; redeeming a template-bound code walks the device
// through the full onboarding pipeline in one call.
//
// Device Lifecycle
//
// Each device moves through a status state machine:
//
//	pending → registered → provisioning → active
//
// with decommissioned and rejected as terminal side states. Templates drive
// the registered→provisioning→active leg: applying a template records a
// history entry, merges the template configuration into the device, issues
// credentials for the template's auth method, and activates the device.
//
// Credential Issuance
//
// Five auth methods are supported: api_key (random key/secret pair),
// username_password (random pair, Argon2id-hashed at rest), certificate
// (self-signed ECDSA keypair, PEM-encoded), token (signed JWT with an
// expiry), and oauth (client id/secret pair). Plaintext secrets are
// returned exactly once at issuance and are never persisted.
//
// Concurrency
//
// Redemption of one-time and capped-use codes is atomic: a single
// conditional UPDATE both checks and consumes the code, so two requests
// racing on the same code cannot both succeed.
package provisioning
