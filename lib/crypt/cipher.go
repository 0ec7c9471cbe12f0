package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("crypt")

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes, prepended to every ciphertext
	NonceSize = 12
)

// Cipher encrypts and decrypts single field values with AES-256-GCM.
// The output format is base64(nonce || ciphertext || tag).
type Cipher struct {
	mu   sync.RWMutex
	aead cipher.AEAD
	key  []byte
	rand io.Reader
}

// New creates a cipher from a raw 32 byte key
func New(key []byte) (*Cipher, error) {
	c := &Cipher{rand: rand.Reader}
	if err := c.setKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

// FromBase64 creates a cipher from a base64 encoded 32 byte key
func FromBase64(secret string) (*Cipher, error) {
	key, err := decodeKey(secret)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// Load returns the cipher for the process. A configured secret always wins and must be
// valid. Without a secret the key is read from keyFile, or generated and written to
// keyFile (mode 0600) if the file does not exist. generated reports the last case.
func Load(secret, keyFile string) (c *Cipher, generated bool, err error) {
	if strings.TrimSpace(secret) != "" {
		c, err = FromBase64(secret)
		return c, false, err
	}
	if keyFile == "" {
		return nil, false, store.NewError(store.RetCConfiguration, "no encryption key configured and no key file given")
	}

	data, err := os.ReadFile(keyFile)
	switch {
	case err == nil:
		c, err = FromBase64(string(data))
		if err != nil {
			return nil, false, store.Errorf(store.RetCConfiguration, "key file %s: %s", keyFile, err)
		}
		return c, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, store.Errorf(store.RetCConfiguration, "reading key file %s: %s", keyFile, err)
	}

	secret, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, store.Errorf(store.RetCConfiguration, "creating key directory: %s", err)
		}
	}
	if err := os.WriteFile(keyFile, []byte(secret+"\n"), 0o600); err != nil {
		return nil, false, store.Errorf(store.RetCConfiguration, "persisting generated key: %s", err)
	}
	Logger.Warningf("generated new encryption key and stored it in %s", keyFile)

	c, err = FromBase64(secret)
	return c, true, err
}

// GenerateKey returns a new random base64 encoded key
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", store.Errorf(store.RetCConfiguration, "generating key: %s", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Reload replaces the key. This is the only way to rotate the key of a running
// process, records encrypted under the old key can not be decrypted afterwards.
func (c *Cipher) Reload(secret string) error {
	key, err := decodeKey(secret)
	if err != nil {
		return err
	}
	if err := c.setKey(key); err != nil {
		return err
	}
	Logger.Infof("encryption key reloaded (fingerprint %s)", c.Fingerprint())
	return nil
}

// Fingerprint returns a short, non-secret identifier of the current key
func (c *Cipher) Fingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sum := sha256.Sum256(c.key)
	return hex.EncodeToString(sum[:4])
}

// Encrypt encrypts plaintext with a fresh random nonce.
// It fails with a RetCEncryption error for empty input, a missing key, or when
// the result can not be shown to differ from the input.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return "", store.NewError(store.RetCEncryption, "cannot encrypt empty data")
	}
	if c == nil {
		return "", store.NewError(store.RetCEncryption, "encryption key not available")
	}

	c.mu.RLock()
	aead, rnd := c.aead, c.rand
	c.mu.RUnlock()
	if aead == nil {
		return "", store.NewError(store.RetCEncryption, "encryption key not available")
	}

	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return "", store.Errorf(store.RetCEncryption, "reading nonce: %s", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	out := base64.StdEncoding.EncodeToString(sealed)

	if err := Verify(plaintext, out); err != nil {
		return "", err
	}
	return out, nil
}

// Decrypt reverses Encrypt. Malformed input and authentication failures return a
// RetCDecryption error, the caller decides whether that is fatal.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil {
		return "", store.NewError(store.RetCDecryption, "encryption key not available")
	}
	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()
	if aead == nil {
		return "", store.NewError(store.RetCDecryption, "encryption key not available")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", store.Errorf(store.RetCDecryption, "invalid base64: %s", err)
	}
	if len(raw) < NonceSize+aead.Overhead() {
		return "", store.Errorf(store.RetCDecryption, "ciphertext too short (%d bytes)", len(raw))
	}

	plain, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return "", store.Errorf(store.RetCDecryption, "authentication failed: %s", err)
	}
	return string(plain), nil
}

// Verify fails unless ciphertext is non-empty and differs from plaintext.
// Every write path calls it again right before persisting.
func Verify(plaintext, ciphertext string) error {
	if ciphertext == "" {
		return store.NewError(store.RetCEncryption, "encryption produced no output, will not store plaintext")
	}
	if ciphertext == plaintext {
		return store.NewError(store.RetCEncryption, "encrypted content matches original, will not store plaintext")
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (c *Cipher) setKey(key []byte) error {
	if len(key) != KeySize {
		return store.Errorf(store.RetCConfiguration, "invalid key length: expected %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return store.Errorf(store.RetCConfiguration, "creating block cipher: %s", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return store.Errorf(store.RetCConfiguration, "creating gcm: %s", err)
	}

	k := make([]byte, KeySize)
	copy(k, key)

	c.mu.Lock()
	c.aead = aead
	c.key = k
	if c.rand == nil {
		c.rand = rand.Reader
	}
	c.mu.Unlock()
	return nil
}

func decodeKey(secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, store.Errorf(store.RetCConfiguration, "encryption key is not valid base64: %s", err)
	}
	if len(key) != KeySize {
		return nil, store.Errorf(store.RetCConfiguration, "invalid key length: expected %d bytes (AES-256), got %d", KeySize, len(key))
	}
	return key, nil
}
