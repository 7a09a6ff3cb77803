package provisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the persistence operations the provisioning service
// requires. The abstraction keeps the service testable without a database
// and leaves the storage engine swappable.
type Repository interface {
	// CreateDevice inserts a new device and assigns its numeric id.
	// Returns ErrDeviceExists if the UID is already registered.
	CreateDevice(ctx context.Context, d *Device) error

	// GetDeviceByUID retrieves a device by its globally unique UID.
	// Returns ErrDeviceNotFound if absent.
	GetDeviceByUID(ctx context.Context, uid string) (*Device, error)

	// GetDeviceByID retrieves a device by its numeric id.
	GetDeviceByID(ctx context.Context, id int64) (*Device, error)

	// ListDevices retrieves all devices ordered by registration time.
	ListDevices(ctx context.Context) ([]Device, error)

	// UpdateDevice persists mutable device fields (name, firmware,
	// location, metadata, status, auth method).
	UpdateDevice(ctx context.Context, d *Device) error

	// SetDeviceConnectivity updates the online flag and liveness
	// timestamps for the device with the given UID.
	SetDeviceConnectivity(ctx context.Context, uid string, online bool, at time.Time) error

	// CreateTemplate inserts a new provisioning template.
	CreateTemplate(ctx context.Context, t *Template) error

	// GetTemplate retrieves a template by id. Returns ErrTemplateNotFound
	// if absent.
	GetTemplate(ctx context.Context, id int64) (*Template, error)

	// ListTemplates retrieves all templates.
	ListTemplates(ctx context.Context) ([]Template, error)

	// CreateCode inserts a new registration code.
	CreateCode(ctx context.Context, c *RegistrationCode) error

	// GetCodeByValue retrieves a registration code by its code string.
	// Returns ErrCodeNotFound if absent.
	GetCodeByValue(ctx context.Context, code string) (*RegistrationCode, error)

	// ListCodes retrieves all registration codes.
	ListCodes(ctx context.Context) ([]RegistrationCode, error)

	// ConsumeCode atomically redeems one use of a registration code: a
	// single conditional UPDATE increments use_count only while the code
	// is active, unexpired, and under its use cap, deactivating one-time
	// codes in the same statement. When the guard fails the specific
	// sentinel (ErrCodeNotFound, ErrCodeInactive, ErrCodeExpired,
	// ErrCodeExhausted) is recovered by re-reading the row.
	ConsumeCode(ctx context.Context, code string, now time.Time) error

	// CreateCredentials inserts a credential record for a device.
	CreateCredentials(ctx context.Context, c *Credentials) error

	// ListCredentialsByDevice retrieves all credential records for a device.
	ListCredentialsByDevice(ctx context.Context, deviceID int64) ([]Credentials, error)

	// AddHistory appends a provisioning history entry.
	AddHistory(ctx context.Context, h *HistoryEntry) error

	// ListHistoryByDevice retrieves a device's provisioning history,
	// oldest first.
	ListHistoryByDevice(ctx context.Context, deviceID int64) ([]HistoryEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateDevice inserts a new device and assigns its numeric id.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	metadataJSON, err := json.Marshal(metadataOrEmpty(d.Metadata))
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	now := time.Now().UTC()
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (
			uid, name, type, status, firmware_version, location, metadata,
			auth_method, is_online, last_seen_at, last_connected_at,
			registered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		d.UID,
		d.Name,
		string(d.Type),
		string(d.Status),
		d.FirmwareVersion,
		d.Location,
		string(metadataJSON),
		string(d.AuthMethod),
		boolToInt(d.IsOnline),
		nullableTime(d.LastSeenAt),
		nullableTime(d.LastConnectedAt),
		d.RegisteredAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	d.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	return nil
}

// GetDeviceByUID retrieves a device by its globally unique UID.
func (r *SQLiteRepository) GetDeviceByUID(ctx context.Context, uid string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, deviceSelect+" WHERE uid = ?", uid)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by uid: %w", err)
	}
	return d, nil
}

// GetDeviceByID retrieves a device by its numeric id.
func (r *SQLiteRepository) GetDeviceByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, deviceSelect+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// ListDevices retrieves all devices ordered by registration time.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, deviceSelect+" ORDER BY registered_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// UpdateDevice persists mutable device fields.
func (r *SQLiteRepository) UpdateDevice(ctx context.Context, d *Device) error {
	metadataJSON, err := json.Marshal(metadataOrEmpty(d.Metadata))
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, type = ?, status = ?, firmware_version = ?,
			location = ?, metadata = ?, auth_method = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		string(d.Type),
		string(d.Status),
		d.FirmwareVersion,
		d.Location,
		string(metadataJSON),
		string(d.AuthMethod),
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SetDeviceConnectivity updates the online flag and liveness timestamps.
// last_connected_at advances only on offline→online transitions.
func (r *SQLiteRepository) SetDeviceConnectivity(ctx context.Context, uid string, online bool, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)

	query := `
		UPDATE devices SET
			is_online = ?,
			last_seen_at = ?,
			last_connected_at = CASE WHEN ? = 1 AND is_online = 0 THEN ? ELSE last_connected_at END,
			updated_at = ?
		WHERE uid = ?`

	online01 := boolToInt(online)
	result, err := r.db.ExecContext(ctx, query,
		online01, ts, online01, ts,
		time.Now().UTC().Format(time.RFC3339),
		uid,
	)
	if err != nil {
		return fmt.Errorf("updating device connectivity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// CreateTemplate inserts a new provisioning template.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t *Template) error {
	configJSON, err := json.Marshal(metadataOrEmpty(t.Configuration))
	if err != nil {
		return fmt.Errorf("marshalling configuration: %w", err)
	}
	settingsJSON, err := json.Marshal(metadataOrEmpty(t.DefaultSettings))
	if err != nil {
		return fmt.Errorf("marshalling default settings: %w", err)
	}
	caps := t.RequiredCapabilities
	if caps == nil {
		caps = []string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO provisioning_templates (
			name, device_type, configuration, default_settings,
			required_capabilities, auth_method, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		t.Name,
		string(t.DeviceType),
		string(configJSON),
		string(settingsJSON),
		string(capsJSON),
		string(t.AuthMethod),
		boolToInt(t.IsActive),
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting template: %w", err)
	}

	t.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading template id: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by id.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := r.db.QueryRowContext(ctx, templateSelect+" WHERE id = ?", id)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("querying template: %w", err)
	}
	return t, nil
}

// ListTemplates retrieves all templates.
func (r *SQLiteRepository) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx, templateSelect+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return templates, nil
}

// CreateCode inserts a new registration code.
func (r *SQLiteRepository) CreateCode(ctx context.Context, c *RegistrationCode) error {
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO registration_codes (
			code, device_type, template_id, expires_at,
			is_one_time, use_count, max_uses, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		c.Code,
		nullableDeviceType(c.DeviceType),
		nullableInt64(c.TemplateID),
		c.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(c.IsOneTime),
		c.UseCount,
		c.MaxUses,
		boolToInt(c.IsActive),
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting registration code: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading code id: %w", err)
	}
	return nil
}

// GetCodeByValue retrieves a registration code by its code string.
func (r *SQLiteRepository) GetCodeByValue(ctx context.Context, code string) (*RegistrationCode, error) {
	row := r.db.QueryRowContext(ctx, codeSelect+" WHERE code = ?", code)
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("querying registration code: %w", err)
	}
	return c, nil
}

// ListCodes retrieves all registration codes.
func (r *SQLiteRepository) ListCodes(ctx context.Context) ([]RegistrationCode, error) {
	rows, err := r.db.QueryContext(ctx, codeSelect+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying registration codes: %w", err)
	}
	defer rows.Close()

	var codes []RegistrationCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning registration code: %w", err)
		}
		codes = append(codes, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration codes: %w", err)
	}
	return codes, nil
}

// ConsumeCode atomically redeems one use of a registration code. The
// guard conditions live in the UPDATE itself so two requests racing on
// the same one-time code cannot both succeed.
func (r *SQLiteRepository) ConsumeCode(ctx context.Context, code string, now time.Time) error {
	query := `
		UPDATE registration_codes SET
			use_count = use_count + 1,
			is_active = CASE WHEN is_one_time = 1 THEN 0 ELSE is_active END
		WHERE code = ?
		  AND is_active = 1
		  AND use_count < max_uses
		  AND expires_at > ?`

	result, err := r.db.ExecContext(ctx, query, code, now.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("consuming registration code: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Guard failed: re-read to report the specific reason.
	c, err := r.GetCodeByValue(ctx, code)
	if err != nil {
		return err
	}
	switch {
	case !c.IsActive:
		return ErrCodeInactive
	case !c.ExpiresAt.After(now):
		return ErrCodeExpired
	case c.UseCount >= c.MaxUses:
		return ErrCodeExhausted
	default:
		return ErrCodeInactive
	}
}

// CreateCredentials inserts a credential record for a device.
func (r *SQLiteRepository) CreateCredentials(ctx context.Context, c *Credentials) error {
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO device_credentials (
			device_id, auth_method, api_key, api_secret, username,
			password_hash, certificate, private_key, token,
			client_id, client_secret,
			valid_from, valid_until, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		c.DeviceID,
		string(c.AuthMethod),
		nullableText(c.APIKey),
		nullableText(c.APISecret),
		nullableText(c.Username),
		nullableText(c.PasswordHash),
		nullableText(c.Certificate),
		nullableText(c.PrivateKey),
		nullableText(c.Token),
		nullableText(c.ClientID),
		nullableText(c.ClientSecret),
		nullableTime(c.ValidFrom),
		nullableTime(c.ValidUntil),
		boolToInt(c.IsActive),
		c.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting credentials: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading credentials id: %w", err)
	}
	return nil
}

// ListCredentialsByDevice retrieves all credential records for a device.
func (r *SQLiteRepository) ListCredentialsByDevice(ctx context.Context, deviceID int64) ([]Credentials, error) {
	query := `
		SELECT id, device_id, auth_method, api_key, api_secret, username,
			password_hash, certificate, private_key, token,
			client_id, client_secret,
			valid_from, valid_until, is_active, created_at
		FROM device_credentials
		WHERE device_id = ?
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credentials
	for rows.Next() {
		c, err := scanCredentials(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credentials: %w", err)
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// AddHistory appends a provisioning history entry.
func (r *SQLiteRepository) AddHistory(ctx context.Context, h *HistoryEntry) error {
	h.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO provisioning_history (device_id, template_id, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		h.DeviceID,
		nullableInt64(h.TemplateID),
		h.Action,
		h.Detail,
		h.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	h.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading history id: %w", err)
	}
	return nil
}

// ListHistoryByDevice retrieves a device's provisioning history.
func (r *SQLiteRepository) ListHistoryByDevice(ctx context.Context, deviceID int64) ([]HistoryEntry, error) {
	query := `
		SELECT id, device_id, template_id, action, detail, created_at
		FROM provisioning_history
		WHERE device_id = ?
		ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var templateID sql.NullInt64
		var createdAt string
		if err := rows.Scan(&h.ID, &h.DeviceID, &templateID, &h.Action, &h.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		if templateID.Valid {
			h.TemplateID = &templateID.Int64
		}
		h.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing history created_at: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

const deviceSelect = `
	SELECT id, uid, name, type, status, firmware_version, location, metadata,
		auth_method, is_online, last_seen_at, last_connected_at,
		registered_at, updated_at
	FROM devices`

const templateSelect = `
	SELECT id, name, device_type, configuration, default_settings,
		required_capabilities, auth_method, is_active, created_at, updated_at
	FROM provisioning_templates`

const codeSelect = `
	SELECT id, code, device_type, template_id, expires_at,
		is_one_time, use_count, max_uses, is_active, created_at
	FROM registration_codes`

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType, status, authMethod string
	var metadataJSON string
	var isOnline int
	var lastSeen, lastConnected sql.NullString
	var registeredAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.UID,
		&d.Name,
		&deviceType,
		&status,
		&d.FirmwareVersion,
		&d.Location,
		&metadataJSON,
		&authMethod,
		&isOnline,
		&lastSeen,
		&lastConnected,
		&registeredAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Status = Status(status)
	d.AuthMethod = AuthMethod(authMethod)
	d.IsOnline = isOnline != 0

	if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}

	d.LastSeenAt = parseNullableTime(lastSeen)
	d.LastConnectedAt = parseNullableTime(lastConnected)

	var parseErr error
	d.RegisteredAt, parseErr = time.Parse(time.RFC3339, registeredAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// scanTemplate scans a row or rows result into a Template.
func scanTemplate(scanner rowScanner) (*Template, error) {
	var t Template
	var deviceType, authMethod string
	var configJSON, settingsJSON, capsJSON string
	var isActive int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&t.ID,
		&t.Name,
		&deviceType,
		&configJSON,
		&settingsJSON,
		&capsJSON,
		&authMethod,
		&isActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.DeviceType = DeviceType(deviceType)
	t.AuthMethod = AuthMethod(authMethod)
	t.IsActive = isActive != 0

	if err := json.Unmarshal([]byte(configJSON), &t.Configuration); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &t.DefaultSettings); err != nil {
		return nil, fmt.Errorf("unmarshalling default settings: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &t.RequiredCapabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}

	var parseErr error
	t.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	t.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &t, nil
}

// scanCode scans a row or rows result into a RegistrationCode.
func scanCode(scanner rowScanner) (*RegistrationCode, error) {
	var c RegistrationCode
	var deviceType sql.NullString
	var templateID sql.NullInt64
	var isOneTime, isActive int
	var expiresAt, createdAt string

	err := scanner.Scan(
		&c.ID,
		&c.Code,
		&deviceType,
		&templateID,
		&expiresAt,
		&isOneTime,
		&c.UseCount,
		&c.MaxUses,
		&isActive,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if deviceType.Valid {
		c.DeviceType = DeviceType(deviceType.String)
	}
	if templateID.Valid {
		c.TemplateID = &templateID.Int64
	}
	c.IsOneTime = isOneTime != 0
	c.IsActive = isActive != 0

	var parseErr error
	c.ExpiresAt, parseErr = time.Parse(time.RFC3339, expiresAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", parseErr)
	}
	c.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}

	return &c, nil
}

// scanCredentials scans a rows result into a Credentials record.
func scanCredentials(scanner rowScanner) (*Credentials, error) {
	var c Credentials
	var authMethod string
	var apiKey, apiSecret, username, passwordHash sql.NullString
	var certificate, privateKey, token sql.NullString
	var clientID, clientSecret sql.NullString
	var validFrom, validUntil sql.NullString
	var isActive int
	var createdAt string

	err := scanner.Scan(
		&c.ID,
		&c.DeviceID,
		&authMethod,
		&apiKey,
		&apiSecret,
		&username,
		&passwordHash,
		&certificate,
		&privateKey,
		&token,
		&clientID,
		&clientSecret,
		&validFrom,
		&validUntil,
		&isActive,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.AuthMethod = AuthMethod(authMethod)
	c.APIKey = apiKey.String
	c.APISecret = apiSecret.String
	c.Username = username.String
	c.PasswordHash = passwordHash.String
	c.Certificate = certificate.String
	c.PrivateKey = privateKey.String
	c.Token = token.String
	c.ClientID = clientID.String
	c.ClientSecret = clientSecret.String
	c.ValidFrom = parseNullableTime(validFrom)
	c.ValidUntil = parseNullableTime(validUntil)
	c.IsActive = isActive != 0

	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &c, nil
}

// metadataOrEmpty substitutes an empty map so JSON columns never hold "null".
func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// nullableText returns a sql.NullString for optional text columns.
func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableDeviceType returns a sql.NullString for an optional type binding.
func nullableDeviceType(t DeviceType) sql.NullString {
	if t == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(t), Valid: true}
}

// nullableInt64 returns a sql.NullInt64 for optional integer pointers.
func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// parseNullableTime parses an optional RFC3339 column into a time pointer.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
