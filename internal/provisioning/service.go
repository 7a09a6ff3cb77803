package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
)

// Logger is the logging surface the service requires. *logging.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Announcer receives onboarding events for fan-out to connected clients.
// The broadcast hub satisfies it.
type Announcer interface {
	PublishToChannel(channel string, payload any)
}

// ChannelDeviceRegistered is the hub channel onboarding events go out on.
const ChannelDeviceRegistered = "device.registered"

// CodeRequest carries the caller-supplied parameters for code issuance.
type CodeRequest struct {
	DeviceType  DeviceType `json:"device_type,omitempty"`
	TemplateID  *int64     `json:"template_id,omitempty"`
	ExpiryHours int        `json:"expiry_hours,omitempty"`
	IsOneTime   bool       `json:"is_one_time"`
	MaxUses     int        `json:"max_uses,omitempty"`
}

// DeviceUpdate carries optional field changes for an existing device.
// Nil fields are left untouched.
type DeviceUpdate struct {
	Name            *string         `json:"name,omitempty"`
	FirmwareVersion *string         `json:"firmware_version,omitempty"`
	Location        *string         `json:"location,omitempty"`
	Metadata        *map[string]any `json:"metadata,omitempty"`
	Status          *Status         `json:"status,omitempty"`
}

// Service implements device onboarding on top of a Repository.
type Service struct {
	repo      Repository
	issuer    *credentialIssuer
	cfg       config.ProvisioningConfig
	logger    Logger
	announcer Announcer
}

// NewService creates the provisioning service.
func NewService(repo Repository, cfg config.ProvisioningConfig, sec config.SecurityConfig, logger Logger) *Service {
	return &Service{
		repo:   repo,
		issuer: newCredentialIssuer(sec.JWT.Secret, time.Duration(cfg.TokenTTLHours)*time.Hour),
		cfg:    cfg,
		logger: logger,
	}
}

// SetAnnouncer wires the hub (or any fan-out sink) for onboarding events.
// Optional; without it registration events are only logged.
func (s *Service) SetAnnouncer(a Announcer) {
	s.announcer = a
}

// RegisterDevice creates a new device entry in registered status.
func (s *Service) RegisterDevice(ctx context.Context, nd NewDevice) (*Device, error) {
	if nd.UID == "" {
		return nil, fmt.Errorf("%w: device uid is required", ErrValidation)
	}
	if !nd.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeviceType, nd.Type)
	}

	device := &Device{
		UID:             nd.UID,
		Name:            nd.Name,
		Type:            nd.Type,
		Status:          StatusRegistered,
		FirmwareVersion: nd.FirmwareVersion,
		Location:        nd.Location,
		Metadata:        nd.Metadata,
		AuthMethod:      AuthMethodNone,
	}

	if err := s.repo.CreateDevice(ctx, device); err != nil {
		return nil, err
	}

	s.recordHistory(ctx, device.ID, nil, HistoryActionRegistered, string(device.Type))
	s.logger.Info("device registered", "uid", device.UID, "type", device.Type)

	if s.announcer != nil {
		s.announcer.PublishToChannel(ChannelDeviceRegistered, device)
	}
	return device, nil
}

// GetDevice retrieves a device by UID.
func (s *Service) GetDevice(ctx context.Context, uid string) (*Device, error) {
	return s.repo.GetDeviceByUID(ctx, uid)
}

// GetDeviceByID retrieves a device by numeric id.
func (s *Service) GetDeviceByID(ctx context.Context, id int64) (*Device, error) {
	return s.repo.GetDeviceByID(ctx, id)
}

// ListDevices retrieves all registered devices.
func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	return s.repo.ListDevices(ctx)
}

// UpdateDevice applies field changes to an existing device. Status
// changes are validated against the onboarding state machine.
func (s *Service) UpdateDevice(ctx context.Context, uid string, upd DeviceUpdate) (*Device, error) {
	device, err := s.repo.GetDeviceByUID(ctx, uid)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		device.Name = *upd.Name
	}
	if upd.FirmwareVersion != nil {
		device.FirmwareVersion = *upd.FirmwareVersion
	}
	if upd.Location != nil {
		device.Location = *upd.Location
	}
	if upd.Metadata != nil {
		device.Metadata = *upd.Metadata
	}
	if upd.Status != nil && *upd.Status != device.Status {
		if !device.Status.CanTransitionTo(*upd.Status) {
			return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, device.Status, *upd.Status)
		}
		s.recordHistory(ctx, device.ID, nil, HistoryActionStatusChanged,
			fmt.Sprintf("%s to %s", device.Status, *upd.Status))
		device.Status = *upd.Status
	}

	if err := s.repo.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// GenerateRegistrationCode issues a new onboarding code. A template-bound
// code inherits the template's device type; an explicitly given type must
// match it.
func (s *Service) GenerateRegistrationCode(ctx context.Context, req CodeRequest) (*RegistrationCode, error) {
	boundType := req.DeviceType
	if boundType != "" && !boundType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeviceType, boundType)
	}

	if req.TemplateID != nil {
		tpl, err := s.repo.GetTemplate(ctx, *req.TemplateID)
		if err != nil {
			return nil, err
		}
		if boundType != "" && tpl.DeviceType != boundType {
			return nil, fmt.Errorf("%w: code type %s, template type %s",
				ErrTypeMismatch, boundType, tpl.DeviceType)
		}
		boundType = tpl.DeviceType
	}

	expiryHours := req.ExpiryHours
	if expiryHours <= 0 {
		expiryHours = s.cfg.DefaultExpiryHours
	}
	maxUses := req.MaxUses
	if maxUses <= 0 || req.IsOneTime {
		maxUses = 1
	}

	value, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, err
	}

	code := &RegistrationCode{
		Code:       value,
		DeviceType: boundType,
		TemplateID: req.TemplateID,
		ExpiresAt:  time.Now().UTC().Add(time.Duration(expiryHours) * time.Hour),
		IsOneTime:  req.IsOneTime,
		MaxUses:    maxUses,
		IsActive:   true,
	}
	if err := s.repo.CreateCode(ctx, code); err != nil {
		return nil, err
	}

	code.RegistrationURL = registrationURL(s.cfg.RegistrationBaseURL, code.Code)
	s.logger.Info("registration code issued",
		"device_type", code.DeviceType, "one_time", code.IsOneTime, "max_uses", code.MaxUses)
	return code, nil
}

// ListRegistrationCodes retrieves all issued codes with derived URLs.
func (s *Service) ListRegistrationCodes(ctx context.Context) ([]RegistrationCode, error) {
	codes, err := s.repo.ListCodes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range codes {
		codes[i].RegistrationURL = registrationURL(s.cfg.RegistrationBaseURL, codes[i].Code)
	}
	return codes, nil
}

// CodeQR renders a code's registration URL as a PNG QR image.
func (s *Service) CodeQR(ctx context.Context, codeValue string) ([]byte, error) {
	code, err := s.repo.GetCodeByValue(ctx, codeValue)
	if err != nil {
		return nil, err
	}
	return codeQR(s.cfg.RegistrationBaseURL, code.Code)
}

// ValidateRegistrationCode checks a code without consuming a use. The
// returned reason is always populated, including for valid codes.
func (s *Service) ValidateRegistrationCode(ctx context.Context, codeValue string) (*CodeValidation, error) {
	code, err := s.repo.GetCodeByValue(ctx, codeValue)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return &CodeValidation{Valid: false, Reason: ReasonNotFound}, nil
		}
		return nil, err
	}
	return validateCode(code, time.Now().UTC()), nil
}

// validateCode is the pure validity check shared by validation and
// redemption paths.
func validateCode(code *RegistrationCode, now time.Time) *CodeValidation {
	v := &CodeValidation{
		DeviceType: code.DeviceType,
		TemplateID: code.TemplateID,
		ExpiresAt:  code.ExpiresAt,
		UsesLeft:   code.MaxUses - code.UseCount,
	}
	switch {
	case !code.IsActive:
		v.Reason = ReasonInactive
	case !code.ExpiresAt.After(now):
		v.Reason = ReasonExpired
	case code.UseCount >= code.MaxUses:
		v.Reason = ReasonMaxUses
	default:
		v.Valid = true
		v.Reason = ReasonValid
	}
	return v
}

// RegisterDeviceWithCode redeems a registration code: validates it,
// atomically consumes a use, registers the device, and applies the bound
// template if any. Precondition failures leave the code's use count
// unchanged.
func (s *Service) RegisterDeviceWithCode(ctx context.Context, codeValue string, nd NewDevice) (*Device, error) {
	code, err := s.repo.GetCodeByValue(ctx, codeValue)
	if err != nil {
		return nil, err
	}

	// Type binding is checked before validity so a mismatched request is
	// reported as such even once the code is spent or expired.
	if code.DeviceType != "" && code.DeviceType != nd.Type {
		return nil, fmt.Errorf("%w: code is bound to %s, device is %s",
			ErrTypeMismatch, code.DeviceType, nd.Type)
	}
	now := time.Now().UTC()
	if v := validateCode(code, now); !v.Valid {
		return nil, validationErr(v.Reason)
	}
	if !nd.Type.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDeviceType, nd.Type)
	}
	if _, err := s.repo.GetDeviceByUID(ctx, nd.UID); err == nil {
		return nil, ErrDeviceExists
	} else if !errors.Is(err, ErrDeviceNotFound) {
		return nil, err
	}

	// Atomic redeem; a concurrent request racing on the same one-time
	// code fails here, before any device state is written.
	if err := s.repo.ConsumeCode(ctx, codeValue, now); err != nil {
		return nil, err
	}

	device, err := s.RegisterDevice(ctx, nd)
	if err != nil {
		return nil, err
	}

	if code.TemplateID != nil {
		if _, err := s.ApplyTemplate(ctx, device.ID, *code.TemplateID); err != nil {
			return nil, fmt.Errorf("applying bound template: %w", err)
		}
		return s.repo.GetDeviceByID(ctx, device.ID)
	}
	return device, nil
}

// validationErr maps a code validation reason to its sentinel error.
func validationErr(reason string) error {
	switch reason {
	case ReasonInactive:
		return ErrCodeInactive
	case ReasonExpired:
		return ErrCodeExpired
	case ReasonMaxUses:
		return ErrCodeExhausted
	default:
		return ErrCodeNotFound
	}
}

// ApplyTemplate walks a device through the provisioning leg: transitions
// to provisioning, merges the template configuration into the device
// metadata, issues credentials for the template's auth method, and
// activates the device. Issued plaintext credentials are returned to the
// caller; nil when the template's auth method is none.
func (s *Service) ApplyTemplate(ctx context.Context, deviceID, templateID int64) (*IssuedCredentials, error) {
	device, err := s.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl.DeviceType != device.Type {
		return nil, fmt.Errorf("%w: template is for %s, device is %s",
			ErrTypeMismatch, tpl.DeviceType, device.Type)
	}
	if !device.Status.CanTransitionTo(StatusProvisioning) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, device.Status, StatusProvisioning)
	}

	device.Status = StatusProvisioning
	if err := s.repo.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, device.ID, &tpl.ID, HistoryActionTemplateStarted, tpl.Name)

	// Defaults first, then template configuration overriding; existing
	// device metadata keys not named by the template are preserved.
	if device.Metadata == nil {
		device.Metadata = make(map[string]any)
	}
	for k, v := range tpl.DefaultSettings {
		device.Metadata[k] = v
	}
	for k, v := range tpl.Configuration {
		device.Metadata[k] = v
	}

	var issued *IssuedCredentials
	if tpl.AuthMethod != AuthMethodNone && tpl.AuthMethod != "" {
		issued, err = s.createCredentials(ctx, device, tpl.AuthMethod)
		if err != nil {
			return nil, err
		}
	}

	device.Status = StatusActive
	if err := s.repo.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, device.ID, &tpl.ID, HistoryActionTemplateApplied, tpl.Name)
	s.logger.Info("template applied", "uid", device.UID, "template", tpl.Name)

	return issued, nil
}

// CreateDeviceCredentials generates and stores method-specific secrets
// for a device, updating its recorded auth method. Plaintext material is
// returned once and never persisted.
func (s *Service) CreateDeviceCredentials(ctx context.Context, deviceID int64, method AuthMethod) (*IssuedCredentials, error) {
	if !method.IsValid() || method == AuthMethodNone {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAuthMethod, method)
	}
	device, err := s.repo.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	issued, err := s.createCredentials(ctx, device, method)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDevice(ctx, device); err != nil {
		return nil, err
	}
	return issued, nil
}

// createCredentials issues and stores credentials for the device, setting
// its auth method in memory. Callers persist the device afterwards.
func (s *Service) createCredentials(ctx context.Context, device *Device, method AuthMethod) (*IssuedCredentials, error) {
	stored, issued, err := s.issuer.issue(device, method)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateCredentials(ctx, stored); err != nil {
		return nil, err
	}
	device.AuthMethod = method
	s.recordHistory(ctx, device.ID, nil, HistoryActionCredentialsIssued, string(method))
	s.logger.Info("credentials issued", "uid", device.UID, "method", method)
	return issued, nil
}

// DeviceCredentials lists the stored credential records for a device.
func (s *Service) DeviceCredentials(ctx context.Context, deviceID int64) ([]Credentials, error) {
	return s.repo.ListCredentialsByDevice(ctx, deviceID)
}

// UpdateDeviceStatus records a connectivity change from the gateway or
// hub liveness paths.
func (s *Service) UpdateDeviceStatus(ctx context.Context, uid string, isOnline bool) error {
	return s.repo.SetDeviceConnectivity(ctx, uid, isOnline, time.Now().UTC())
}

// DeviceHistory retrieves a device's provisioning audit trail.
func (s *Service) DeviceHistory(ctx context.Context, deviceID int64) ([]HistoryEntry, error) {
	return s.repo.ListHistoryByDevice(ctx, deviceID)
}

// CreateTemplate validates and stores a provisioning template.
func (s *Service) CreateTemplate(ctx context.Context, tpl *Template) error {
	if tpl.Name == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if !tpl.DeviceType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, tpl.DeviceType)
	}
	if tpl.AuthMethod == "" {
		tpl.AuthMethod = AuthMethodNone
	}
	if !tpl.AuthMethod.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidAuthMethod, tpl.AuthMethod)
	}
	return s.repo.CreateTemplate(ctx, tpl)
}

// GetTemplate retrieves a template by id.
func (s *Service) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

// ListTemplates retrieves all templates.
func (s *Service) ListTemplates(ctx context.Context) ([]Template, error) {
	return s.repo.ListTemplates(ctx)
}

// recordHistory appends an audit entry, logging rather than failing the
// parent operation on error.
func (s *Service) recordHistory(ctx context.Context, deviceID int64, templateID *int64, action, detail string) {
	entry := &HistoryEntry{
		DeviceID:   deviceID,
		TemplateID: templateID,
		Action:     action,
		Detail:     detail,
	}
	if err := s.repo.AddHistory(ctx, entry); err != nil {
		s.logger.Warn("history write failed", "device_id", deviceID, "action", action, "error", err)
	}
}
