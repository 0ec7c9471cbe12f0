// Package crypt provides the field-level encryption used for every entity written by the client.
//
// Values are sealed with AES-256-GCM under a single process-wide key. Each call to Encrypt
// draws a fresh 12 byte nonce, which is prepended to ciphertext and tag before the whole
// buffer is base64 encoded. The same plaintext therefore never encrypts to the same string.
//
// Key handling:
//
//   - A configured base64 secret always wins. An invalid secret is a RetCConfiguration error,
//     it is never silently replaced by a generated key.
//   - Without a secret, Load reads the key file or generates a new key and persists it (0600).
//   - Reload swaps the key of a running Cipher. Existing records stay encrypted under the old key.
//
// All failures are *store.Error values (RetCEncryption, RetCDecryption, RetCConfiguration).
package crypt
