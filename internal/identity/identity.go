// Package identity manages the daemon's device identity: an ed25519
// keypair persisted at ~/.flux/device.json, and the per-role device
// tokens persisted at ~/.flux/device-tokens.json.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Device is the persisted identity at ~/.flux/device.json.
type Device struct {
	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
}

// DeviceID is sha256(raw ed25519 pubkey), hex-encoded.
func (d Device) DeviceID() (string, error) {
	pub, err := d.PublicKey()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:]), nil
}

// PublicKey decodes the raw ed25519 public key from PEM.
func (d Device) PublicKey() (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(d.PublicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("identity: invalid public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("identity: public key is not ed25519")
	}
	return edPub, nil
}

// PrivateKey decodes the raw ed25519 private key from PEM.
func (d Device) PrivateKey() (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(d.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("identity: invalid private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity: parse private key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: private key is not ed25519")
	}
	return edKey, nil
}

func devicePath(stateDir string) string {
	return filepath.Join(stateDir, "device.json")
}

// LoadOrCreateDevice loads the persisted device identity, generating and
// persisting a fresh ed25519 keypair (mode 0600) if none exists.
func LoadOrCreateDevice(stateDir string) (Device, error) {
	path := devicePath(stateDir)

	data, err := os.ReadFile(path)
	if err == nil {
		var d Device
		if err := json.Unmarshal(data, &d); err != nil {
			return Device{}, fmt.Errorf("identity: parse %s: %w", path, err)
		}
		return d, nil
	}
	if !os.IsNotExist(err) {
		return Device{}, fmt.Errorf("identity: read %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Device{}, fmt.Errorf("identity: generate keypair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return Device{}, fmt.Errorf("identity: marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return Device{}, fmt.Errorf("identity: marshal private key: %w", err)
	}

	d := Device{
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKeyPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return Device{}, fmt.Errorf("identity: mkdir %s: %w", stateDir, err)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return Device{}, fmt.Errorf("identity: marshal device: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return Device{}, fmt.Errorf("identity: write %s: %w", path, err)
	}
	return d, nil
}

// DeviceToken is one persisted role-scoped credential.
type DeviceToken struct {
	Token       string   `json:"token"`
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// TokenStore is the ~/.flux/device-tokens.json map, keyed "<deviceId>:<role>".
type TokenStore struct {
	path   string
	tokens map[string]DeviceToken
}

func tokensPath(stateDir string) string {
	return filepath.Join(stateDir, "device-tokens.json")
}

// LoadTokenStore loads the persisted token map, or an empty store if the
// file does not yet exist.
func LoadTokenStore(stateDir string) (*TokenStore, error) {
	path := tokensPath(stateDir)
	ts := &TokenStore{path: path, tokens: map[string]DeviceToken{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ts, nil
		}
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &ts.tokens); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	return ts, nil
}

// Get returns the token for deviceId:role.
func (ts *TokenStore) Get(deviceID, role string) (DeviceToken, bool) {
	t, ok := ts.tokens[deviceID+":"+role]
	return t, ok
}

// Put persists a token for deviceId:role (mode 0600).
func (ts *TokenStore) Put(deviceID, role, token string, scopes []string) error {
	ts.tokens[deviceID+":"+role] = DeviceToken{
		Token:       token,
		Role:        role,
		Scopes:      scopes,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(ts.tokens)
	if err != nil {
		return fmt.Errorf("identity: marshal tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ts.path), 0700); err != nil {
		return fmt.Errorf("identity: mkdir: %w", err)
	}
	return os.WriteFile(ts.path, raw, 0600)
}
