package provisioning

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	apiKeyBytes    = 16
	apiSecretBytes = 32
	passwordBytes  = 24

	// certValidity is the lifetime of issued device certificates.
	certValidity = 365 * 24 * time.Hour
)

// credentialIssuer generates method-specific secret material for devices.
type credentialIssuer struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func newCredentialIssuer(jwtSecret string, tokenTTL time.Duration) *credentialIssuer {
	return &credentialIssuer{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// issue generates credentials for the device using the given auth method.
// It returns the persisted record (secrets hashed or omitted) alongside
// the one-time plaintext material for the caller.
func (g *credentialIssuer) issue(device *Device, method AuthMethod) (*Credentials, *IssuedCredentials, error) {
	now := time.Now().UTC()
	stored := &Credentials{
		DeviceID:   device.ID,
		AuthMethod: method,
		ValidFrom:  &now,
		IsActive:   true,
	}
	issued := &IssuedCredentials{AuthMethod: method}

	switch method {
	case AuthMethodAPIKey:
		key, err := randomHex(apiKeyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("generating api key: %w", err)
		}
		secret, err := randomHex(apiSecretBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("generating api secret: %w", err)
		}
		stored.APIKey = key
		stored.APISecret = secret
		issued.APIKey = key
		issued.APISecret = secret

	case AuthMethodUsernamePassword:
		password, err := randomPassword(passwordBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("generating password: %w", err)
		}
		hash, err := HashPassword(password)
		if err != nil {
			return nil, nil, fmt.Errorf("hashing password: %w", err)
		}
		username := "dev-" + device.UID
		stored.Username = username
		stored.PasswordHash = hash
		issued.Username = username
		issued.Password = password

	case AuthMethodCertificate:
		certPEM, keyPEM, notAfter, err := g.selfSignedCertificate(device.UID)
		if err != nil {
			return nil, nil, fmt.Errorf("generating certificate: %w", err)
		}
		stored.Certificate = certPEM
		stored.PrivateKey = keyPEM
		stored.ValidUntil = &notAfter
		issued.Certificate = certPEM
		issued.PrivateKey = keyPEM
		issued.ValidUntil = &notAfter

	case AuthMethodToken:
		token, expiresAt, err := g.signedToken(device.UID, now)
		if err != nil {
			return nil, nil, fmt.Errorf("generating token: %w", err)
		}
		stored.Token = token
		stored.ValidUntil = &expiresAt
		issued.Token = token
		issued.ValidUntil = &expiresAt

	case AuthMethodOAuth:
		secret, err := randomHex(apiSecretBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("generating client secret: %w", err)
		}
		clientID := "vg-" + device.UID
		stored.ClientID = clientID
		stored.ClientSecret = secret
		issued.ClientID = clientID
		issued.ClientSecret = secret

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAuthMethod, method)
	}

	return stored, issued, nil
}

// selfSignedCertificate issues an ECDSA P-256 certificate for the device,
// self-signed with the device UID as subject common name. PEM-encoded
// certificate and key are returned for delivery to the device.
func (g *credentialIssuer) selfSignedCertificate(uid string) (certPEM, keyPEM string, notAfter time.Time, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now().UTC()
	notAfter = now.Add(certValidity)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   uid,
			Organization: []string{"VoltGrid Devices"},
		},
		NotBefore:             now,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("creating certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("marshalling key: %w", err)
	}

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM, notAfter, nil
}

// signedToken issues an HS256 JWT with the device UID as subject.
func (g *credentialIssuer) signedToken(uid string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(g.tokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    "voltgrid-core",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return token, expiresAt, nil
}

// randomHex returns n random bytes hex-encoded.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// randomPassword returns n random bytes base64url-encoded, suitable as a
// generated device password.
func randomPassword(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
