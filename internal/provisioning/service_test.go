package provisioning

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
)

// testLogger discards output; tests assert on behaviour, not log lines.
type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

const testJWTSecret = "test-secret-at-least-32-characters-long"

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t))
	cfg := config.ProvisioningConfig{
		RegistrationBaseURL: "https://voltgrid.test/register",
		CodeLength:          10,
		DefaultExpiryHours:  24,
		TokenTTLHours:       72,
	}
	sec := config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret}}
	return NewService(repo, cfg, sec, testLogger{})
}

// fakeAnnouncer records channel publishes.
type fakeAnnouncer struct {
	channels []string
	payloads []any
}

func (f *fakeAnnouncer) PublishToChannel(channel string, payload any) {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
}

func TestRegisterDevice(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	announcer := &fakeAnnouncer{}
	s.SetAnnouncer(announcer)

	device, err := s.RegisterDevice(ctx, NewDevice{
		UID:  "vg-inv-001",
		Name: "Garage Inverter",
		Type: DeviceTypeInverter,
	})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	if device.Status != StatusRegistered {
		t.Fatalf("status = %s, want registered", device.Status)
	}
	if device.AuthMethod != AuthMethodNone {
		t.Fatalf("auth method = %s, want none", device.AuthMethod)
	}

	if len(announcer.channels) != 1 || announcer.channels[0] != ChannelDeviceRegistered {
		t.Fatalf("announcer channels = %v, want [%s]", announcer.channels, ChannelDeviceRegistered)
	}

	history, err := s.DeviceHistory(ctx, device.ID)
	if err != nil {
		t.Fatalf("DeviceHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Action != HistoryActionRegistered {
		t.Fatalf("history = %+v, want single registered entry", history)
	}

	// Duplicate UID and invalid inputs.
	if _, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-inv-001", Type: DeviceTypeInverter}); !errors.Is(err, ErrDeviceExists) {
		t.Fatalf("duplicate error = %v, want ErrDeviceExists", err)
	}
	if _, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-x", Type: "toaster"}); !errors.Is(err, ErrInvalidDeviceType) {
		t.Fatalf("bad type error = %v, want ErrInvalidDeviceType", err)
	}
	if _, err := s.RegisterDevice(ctx, NewDevice{Type: DeviceTypeInverter}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing uid error = %v, want ErrValidation", err)
	}
}

func TestUpdateDeviceStatusTransitions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-met-001", Type: DeviceTypeSmartMeter})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	// registered → active must pass through provisioning.
	active := StatusActive
	if _, err := s.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: &active}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("registered→active error = %v, want ErrInvalidTransition", err)
	}

	prov := StatusProvisioning
	if _, err := s.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: &prov}); err != nil {
		t.Fatalf("registered→provisioning error = %v", err)
	}
	if _, err := s.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: &active}); err != nil {
		t.Fatalf("provisioning→active error = %v", err)
	}

	// active ⇄ decommissioned reactivation.
	decom := StatusDecommissioned
	if _, err := s.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: &decom}); err != nil {
		t.Fatalf("active→decommissioned error = %v", err)
	}
	got, err := s.UpdateDevice(ctx, device.UID, DeviceUpdate{Status: &active})
	if err != nil {
		t.Fatalf("decommissioned→active error = %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
}

func TestGenerateRegistrationCode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	code, err := s.GenerateRegistrationCode(ctx, CodeRequest{
		DeviceType: DeviceTypeSolarPV,
		IsOneTime:  true,
	})
	if err != nil {
		t.Fatalf("GenerateRegistrationCode() error = %v", err)
	}
	if len(code.Code) != 10 {
		t.Fatalf("code length = %d, want 10", len(code.Code))
	}
	if code.MaxUses != 1 {
		t.Fatalf("one-time max uses = %d, want 1", code.MaxUses)
	}
	if !strings.HasPrefix(code.RegistrationURL, "https://voltgrid.test/register?code=") {
		t.Fatalf("registration url = %q", code.RegistrationURL)
	}
	wantExpiry := time.Now().UTC().Add(24 * time.Hour)
	if code.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || code.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expiry = %v, want about %v", code.ExpiresAt, wantExpiry)
	}

	// Template-bound codes inherit the template type; a conflicting
	// explicit type is a validation failure.
	tpl := &Template{Name: "Solar Basic", DeviceType: DeviceTypeSolarPV, IsActive: true}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	bound, err := s.GenerateRegistrationCode(ctx, CodeRequest{TemplateID: &tpl.ID})
	if err != nil {
		t.Fatalf("template-bound code error = %v", err)
	}
	if bound.DeviceType != DeviceTypeSolarPV {
		t.Fatalf("bound code type = %s, want solar_pv", bound.DeviceType)
	}
	if _, err := s.GenerateRegistrationCode(ctx, CodeRequest{
		TemplateID: &tpl.ID,
		DeviceType: DeviceTypeHeatPump,
	}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("conflicting type error = %v, want ErrTypeMismatch", err)
	}
}

func TestValidateRegistrationCode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if v, err := s.ValidateRegistrationCode(ctx, "UNKNOWN"); err != nil || v.Valid || v.Reason != ReasonNotFound {
		t.Fatalf("unknown code = %+v err = %v, want invalid/not found", v, err)
	}

	code, err := s.GenerateRegistrationCode(ctx, CodeRequest{IsOneTime: true})
	if err != nil {
		t.Fatalf("GenerateRegistrationCode() error = %v", err)
	}

	v, err := s.ValidateRegistrationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("ValidateRegistrationCode() error = %v", err)
	}
	if !v.Valid || v.Reason != ReasonValid || v.UsesLeft != 1 {
		t.Fatalf("fresh code validation = %+v", v)
	}

	// Validation has no side effects.
	again, _ := s.ValidateRegistrationCode(ctx, code.Code)
	if again.UsesLeft != 1 {
		t.Fatalf("validation consumed a use: %+v", again)
	}
}

// TestOneTimeCodeLifecycle covers the full redemption path: a one-time
// battery_storage code registers exactly one matching device, a
// type-mismatched second attempt fails without touching the use count,
// and the code validates invalid afterwards.
func TestOneTimeCodeLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	code, err := s.GenerateRegistrationCode(ctx, CodeRequest{
		DeviceType:  DeviceTypeBatteryStorage,
		ExpiryHours: 1,
		IsOneTime:   true,
		MaxUses:     1,
	})
	if err != nil {
		t.Fatalf("GenerateRegistrationCode() error = %v", err)
	}

	// Type mismatch fails before any state changes.
	_, err = s.RegisterDeviceWithCode(ctx, code.Code, NewDevice{UID: "vg-solar-001", Type: DeviceTypeSolarPV})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("mismatched type error = %v, want ErrTypeMismatch", err)
	}
	stored, _ := s.repo.GetCodeByValue(ctx, code.Code)
	if stored.UseCount != 0 {
		t.Fatalf("use_count = %d after rejected attempt, want 0", stored.UseCount)
	}

	// Matching registration succeeds and consumes the code.
	device, err := s.RegisterDeviceWithCode(ctx, code.Code, NewDevice{UID: "vg-batt-010", Type: DeviceTypeBatteryStorage})
	if err != nil {
		t.Fatalf("RegisterDeviceWithCode() error = %v", err)
	}
	if device.Status != StatusRegistered {
		t.Fatalf("device status = %s, want registered", device.Status)
	}

	v, err := s.ValidateRegistrationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("ValidateRegistrationCode() error = %v", err)
	}
	if v.Valid {
		t.Fatal("one-time code still valid after use")
	}
	if v.Reason != ReasonInactive && v.Reason != ReasonMaxUses {
		t.Fatalf("reason = %q, want inactive or max uses reached", v.Reason)
	}

	// Second redemption fails.
	if _, err := s.RegisterDeviceWithCode(ctx, code.Code, NewDevice{UID: "vg-batt-011", Type: DeviceTypeBatteryStorage}); err == nil {
		t.Fatal("second redemption of a one-time code succeeded")
	}

	// A mismatched type on a spent code still reports the mismatch, not
	// the code's spent state.
	_, err = s.RegisterDeviceWithCode(ctx, code.Code, NewDevice{UID: "vg-solar-002", Type: DeviceTypeSolarPV})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("spent code with wrong type error = %v, want ErrTypeMismatch", err)
	}
}

// TestRegisterWithTemplateBoundCode checks that redeeming a
// template-bound code walks the device all the way to active with
// credentials issued.
func TestRegisterWithTemplateBoundCode(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tpl := &Template{
		Name:            "EV Charger Standard",
		DeviceType:      DeviceTypeEVCharger,
		Configuration:   map[string]any{"max_current_a": float64(32)},
		DefaultSettings: map[string]any{"phase": "three"},
		AuthMethod:      AuthMethodAPIKey,
		IsActive:        true,
	}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	code, err := s.GenerateRegistrationCode(ctx, CodeRequest{TemplateID: &tpl.ID, IsOneTime: true})
	if err != nil {
		t.Fatalf("GenerateRegistrationCode() error = %v", err)
	}

	device, err := s.RegisterDeviceWithCode(ctx, code.Code, NewDevice{UID: "vg-evc-001", Type: DeviceTypeEVCharger})
	if err != nil {
		t.Fatalf("RegisterDeviceWithCode() error = %v", err)
	}
	if device.Status != StatusActive {
		t.Fatalf("device status = %s, want active after template apply", device.Status)
	}
	if device.AuthMethod != AuthMethodAPIKey {
		t.Fatalf("auth method = %s, want api_key", device.AuthMethod)
	}
	if device.Metadata["max_current_a"] != float64(32) || device.Metadata["phase"] != "three" {
		t.Fatalf("template configuration not merged: %v", device.Metadata)
	}

	creds, err := s.DeviceCredentials(ctx, device.ID)
	if err != nil {
		t.Fatalf("DeviceCredentials() error = %v", err)
	}
	if len(creds) != 1 || creds[0].AuthMethod != AuthMethodAPIKey {
		t.Fatalf("credentials = %+v, want one api_key record", creds)
	}
}

func TestApplyTemplateTypeMismatch(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-hp-001", Type: DeviceTypeHeatPump})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	tpl := &Template{Name: "Solar Basic", DeviceType: DeviceTypeSolarPV, IsActive: true}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	if _, err := s.ApplyTemplate(ctx, device.ID, tpl.ID); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("ApplyTemplate() error = %v, want ErrTypeMismatch", err)
	}

	// Device untouched by the failed apply.
	got, _ := s.GetDevice(ctx, device.UID)
	if got.Status != StatusRegistered {
		t.Fatalf("status = %s after failed apply, want registered", got.Status)
	}
}

func TestCreateDeviceCredentialsAPIKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-lc-001", Type: DeviceTypeLoadController})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	issued, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodAPIKey)
	if err != nil {
		t.Fatalf("CreateDeviceCredentials() error = %v", err)
	}
	if issued.APIKey == "" || issued.APISecret == "" {
		t.Fatal("api key credentials have empty material")
	}
	if issued.APIKey == issued.APISecret {
		t.Fatal("api key and secret are identical")
	}

	got, _ := s.GetDevice(ctx, device.UID)
	if got.AuthMethod != AuthMethodAPIKey {
		t.Fatalf("device auth method = %s, want api_key", got.AuthMethod)
	}
}

func TestCreateDeviceCredentialsUsernamePassword(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-sm-001", Type: DeviceTypeSmartMeter})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	issued, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodUsernamePassword)
	if err != nil {
		t.Fatalf("CreateDeviceCredentials() error = %v", err)
	}
	if issued.Username == "" || issued.Password == "" {
		t.Fatal("username/password credentials have empty material")
	}

	// Plaintext password is never stored; the hash verifies it.
	creds, _ := s.DeviceCredentials(ctx, device.ID)
	if len(creds) != 1 {
		t.Fatalf("credential records = %d, want 1", len(creds))
	}
	if creds[0].PasswordHash == issued.Password {
		t.Fatal("plaintext password stored")
	}
	ok, err := VerifyPassword(issued.Password, creds[0].PasswordHash)
	if err != nil || !ok {
		t.Fatalf("VerifyPassword() = %v, %v; want match", ok, err)
	}
}

func TestCreateDeviceCredentialsToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-gw-001", Type: DeviceTypeGateway})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	issued, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodToken)
	if err != nil {
		t.Fatalf("CreateDeviceCredentials() error = %v", err)
	}
	if issued.Token == "" {
		t.Fatal("token credential is empty")
	}
	if issued.ValidUntil == nil || !issued.ValidUntil.After(time.Now()) {
		t.Fatalf("token expiry = %v, want future timestamp", issued.ValidUntil)
	}

	// The token verifies against the signing secret and names the device.
	parsed, err := jwt.ParseWithClaims(issued.Token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(testJWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject != device.UID {
		t.Fatalf("token subject = %q, want %q", claims.Subject, device.UID)
	}
}

func TestCreateDeviceCredentialsCertificate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-pv-001", Type: DeviceTypeSolarPV})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	issued, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodCertificate)
	if err != nil {
		t.Fatalf("CreateDeviceCredentials() error = %v", err)
	}
	if !strings.Contains(issued.Certificate, "BEGIN CERTIFICATE") {
		t.Fatalf("certificate is not PEM: %q", issued.Certificate[:40])
	}
	if !strings.Contains(issued.PrivateKey, "BEGIN EC PRIVATE KEY") {
		t.Fatal("private key is not an EC PEM block")
	}
	if issued.ValidUntil == nil || !issued.ValidUntil.After(time.Now()) {
		t.Fatalf("certificate expiry = %v, want future timestamp", issued.ValidUntil)
	}
}

func TestCreateDeviceCredentialsOAuth(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-ev-001", Type: DeviceTypeEVCharger})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	issued, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodOAuth)
	if err != nil {
		t.Fatalf("CreateDeviceCredentials() error = %v", err)
	}
	if issued.ClientID == "" || issued.ClientSecret == "" {
		t.Fatal("oauth credentials have empty material")
	}
	if !strings.HasPrefix(issued.ClientID, "vg-") {
		t.Fatalf("client id = %q, want vg- prefix", issued.ClientID)
	}

	creds, _ := s.DeviceCredentials(ctx, device.ID)
	if len(creds) != 1 || creds[0].ClientID != issued.ClientID {
		t.Fatalf("stored credentials = %+v", creds)
	}
}

func TestCreateDeviceCredentialsInvalidMethod(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-pv-002", Type: DeviceTypeSolarPV})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	if _, err := s.CreateDeviceCredentials(ctx, device.ID, AuthMethodNone); !errors.Is(err, ErrInvalidAuthMethod) {
		t.Fatalf("none method error = %v, want ErrInvalidAuthMethod", err)
	}
	if _, err := s.CreateDeviceCredentials(ctx, device.ID, "telepathy"); !errors.Is(err, ErrInvalidAuthMethod) {
		t.Fatalf("unknown method error = %v, want ErrInvalidAuthMethod", err)
	}
}

func TestUpdateDeviceStatusOnline(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	device, err := s.RegisterDevice(ctx, NewDevice{UID: "vg-batt-020", Type: DeviceTypeBatteryStorage})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	if err := s.UpdateDeviceStatus(ctx, device.UID, true); err != nil {
		t.Fatalf("UpdateDeviceStatus() error = %v", err)
	}
	got, _ := s.GetDevice(ctx, device.UID)
	if !got.IsOnline || got.LastSeenAt == nil {
		t.Fatalf("device connectivity not recorded: %+v", got)
	}

	if err := s.UpdateDeviceStatus(ctx, "missing", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("missing device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestCodeQR(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	code, err := s.GenerateRegistrationCode(ctx, CodeRequest{IsOneTime: true})
	if err != nil {
		t.Fatalf("GenerateRegistrationCode() error = %v", err)
	}

	png, err := s.CodeQR(ctx, code.Code)
	if err != nil {
		t.Fatalf("CodeQR() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("QR rendering is not a PNG")
	}

	if _, err := s.CodeQR(ctx, "UNKNOWN"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("unknown code error = %v, want ErrCodeNotFound", err)
	}
}
