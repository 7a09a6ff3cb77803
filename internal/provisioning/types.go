package provisioning

import "time"

// DeviceType identifies the class of energy hardware being onboarded.
type DeviceType string

// Supported device types.
const (
	DeviceTypeSolarPV        DeviceType = "solar_pv"
	DeviceTypeBatteryStorage DeviceType = "battery_storage"
	DeviceTypeEVCharger      DeviceType = "ev_charger"
	DeviceTypeSmartMeter     DeviceType = "smart_meter"
	DeviceTypeHeatPump       DeviceType = "heat_pump"
	DeviceTypeInverter       DeviceType = "inverter"
	DeviceTypeLoadController DeviceType = "load_controller"
	DeviceTypeGateway        DeviceType = "gateway"
)

// validDeviceTypes is the closed set of accepted device types.
var validDeviceTypes = map[DeviceType]struct{}{
	DeviceTypeSolarPV:        {},
	DeviceTypeBatteryStorage: {},
	DeviceTypeEVCharger:      {},
	DeviceTypeSmartMeter:     {},
	DeviceTypeHeatPump:       {},
	DeviceTypeInverter:       {},
	DeviceTypeLoadController: {},
	DeviceTypeGateway:        {},
}

// IsValid reports whether the device type is one of the supported values.
func (t DeviceType) IsValid() bool {
	_, ok := validDeviceTypes[t]
	return ok
}

// Status is a device's position in the onboarding state machine.
type Status string

// Device statuses.
const (
	StatusPending        Status = "pending"
	StatusRegistered     Status = "registered"
	StatusProvisioning   Status = "provisioning"
	StatusActive         Status = "active"
	StatusDecommissioned Status = "decommissioned"
	StatusRejected       Status = "rejected"
)

// statusTransitions encodes the allowed status changes. Forward movement
// is monotonic; decommissioned devices may be reactivated, rejected is
// terminal.
var statusTransitions = map[Status][]Status{
	StatusPending:        {StatusRegistered, StatusRejected, StatusDecommissioned},
	StatusRegistered:     {StatusProvisioning, StatusRejected, StatusDecommissioned},
	StatusProvisioning:   {StatusActive, StatusRejected, StatusDecommissioned},
	StatusActive:         {StatusDecommissioned},
	StatusDecommissioned: {StatusActive},
	StatusRejected:       {},
}

// CanTransitionTo reports whether a status change from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AuthMethod identifies how a device authenticates to the platform.
type AuthMethod string

// Supported auth methods.
const (
	AuthMethodNone             AuthMethod = "none"
	AuthMethodAPIKey           AuthMethod = "api_key"
	AuthMethodUsernamePassword AuthMethod = "username_password"
	AuthMethodCertificate      AuthMethod = "certificate"
	AuthMethodToken            AuthMethod = "token"
	AuthMethodOAuth            AuthMethod = "oauth"
)

// validAuthMethods is the closed set of accepted auth methods.
var validAuthMethods = map[AuthMethod]struct{}{
	AuthMethodNone:             {},
	AuthMethodAPIKey:           {},
	AuthMethodUsernamePassword: {},
	AuthMethodCertificate:      {},
	AuthMethodToken:            {},
	AuthMethodOAuth:            {},
}

// IsValid reports whether the auth method is one of the supported values.
func (m AuthMethod) IsValid() bool {
	_, ok := validAuthMethods[m]
	return ok
}

// Device is a registered energy device.
type Device struct {
	ID              int64          `json:"id"`
	UID             string         `json:"uid"`
	Name            string         `json:"name"`
	Type            DeviceType     `json:"type"`
	Status          Status         `json:"status"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Location        string         `json:"location,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	AuthMethod      AuthMethod     `json:"auth_method"`
	IsOnline        bool           `json:"is_online"`
	LastSeenAt      *time.Time     `json:"last_seen_at,omitempty"`
	LastConnectedAt *time.Time     `json:"last_connected_at,omitempty"`
	RegisteredAt    time.Time      `json:"registered_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewDevice carries the caller-supplied fields for device registration.
type NewDevice struct {
	UID             string         `json:"uid"`
	Name            string         `json:"name"`
	Type            DeviceType     `json:"type"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Location        string         `json:"location,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Template is a reusable provisioning bundle for a device type.
type Template struct {
	ID                   int64          `json:"id"`
	Name                 string         `json:"name"`
	DeviceType           DeviceType     `json:"device_type"`
	Configuration        map[string]any `json:"configuration"`
	DefaultSettings      map[string]any `json:"default_settings"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	AuthMethod           AuthMethod     `json:"auth_method"`
	IsActive             bool           `json:"is_active"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// RegistrationCode is a redeemable onboarding code, optionally bound to a
// device type and template.
type RegistrationCode struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	TemplateID *int64     `json:"template_id,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	IsOneTime  bool       `json:"is_one_time"`
	UseCount   int        `json:"use_count"`
	MaxUses    int        `json:"max_uses"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`

	// RegistrationURL is derived at issuance, not persisted.
	RegistrationURL string `json:"registration_url,omitempty"`
}

// Validation reason codes, returned verbatim to clients.
const (
	ReasonValid        = "valid"
	ReasonNotFound     = "not found"
	ReasonInactive     = "inactive"
	ReasonExpired      = "expired"
	ReasonMaxUses      = "max uses reached"
	ReasonTypeMismatch = "device type mismatch"
)

// CodeValidation is the outcome of a registration-code check. Reason is
// always populated, including for valid codes.
type CodeValidation struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	TemplateID *int64     `json:"template_id,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at,omitempty"`
	UsesLeft   int        `json:"uses_left"`
}

// Credentials is the persisted credential record for a device. Secrets
// are stored hashed or not at all; see IssuedCredentials.
type Credentials struct {
	ID           int64      `json:"id"`
	DeviceID     int64      `json:"device_id"`
	AuthMethod   AuthMethod `json:"auth_method"`
	APIKey       string     `json:"api_key,omitempty"`
	APISecret    string     `json:"-"`
	Username     string     `json:"username,omitempty"`
	PasswordHash string     `json:"-"`
	Certificate  string     `json:"certificate,omitempty"`
	PrivateKey   string     `json:"-"`
	Token        string     `json:"-"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"-"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IssuedCredentials carries the one-time plaintext material returned to
// the caller at issuance. It is never persisted.
type IssuedCredentials struct {
	AuthMethod   AuthMethod `json:"auth_method"`
	APIKey       string     `json:"api_key,omitempty"`
	APISecret    string     `json:"api_secret,omitempty"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"password,omitempty"`
	Certificate  string     `json:"certificate,omitempty"`
	PrivateKey   string     `json:"private_key,omitempty"`
	Token        string     `json:"token,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

// History actions recorded during onboarding.
const (
	HistoryActionRegistered        = "registered"
	HistoryActionTemplateStarted   = "template_apply_started"
	HistoryActionTemplateApplied   = "template_applied"
	HistoryActionCredentialsIssued = "credentials_issued"
	HistoryActionStatusChanged     = "status_changed"
)

// HistoryEntry is one provisioning audit record for a device.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	DeviceID   int64     `json:"device_id"`
	TemplateID *int64    `json:"template_id,omitempty"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
