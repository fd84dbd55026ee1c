/**
 * @description
 * This package manages per-institution access credentials. Tokens are stored
 * encrypted with AES-256-GCM under a key derived from an environment-supplied
 * secret; a per-value random nonce is prepended to the ciphertext and the
 * whole envelope is base64-encoded.
 *
 * Decryption runs an explicit, ordered fallback chain because many stored
 * tokens predate the encryption-key rollout:
 *   1. authenticated decrypt (skipped when no key is configured),
 *   2. plain base64 decode, accepted only when the result carries the
 *      aggregator's token prefix,
 *   3. pass-through of the raw blob together with a non-nil error so the
 *      caller fails downstream with a clear message instead of crashing here.
 * Every attempt that falls through is logged; the chain must stay visible as
 * separate steps rather than a single try/catch.
 *
 * @dependencies
 * - crypto/aes, crypto/cipher, crypto/rand: Standard Go AEAD primitives.
 * - encoding/base64, errors, fmt, log, strings: Standard Go libraries.
 */
package tokenvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// TokenPrefix is the aggregator's access-token prefix convention
// (e.g. "access-sandbox-9f3a..."). The base64 fallback only accepts decoded
// values that start with it.
const TokenPrefix = "access-"

const keySize = 32 // AES-256

var (
	// ErrNoKey indicates the vault was built without an encryption key.
	ErrNoKey = errors.New("tokenvault: no encryption key configured")
	// ErrUnrecoverable indicates every strategy in the fallback chain failed;
	// the raw blob is returned alongside for downstream diagnostics.
	ErrUnrecoverable = errors.New("tokenvault: token not decryptable by any strategy")
)

// Vault encrypts and decrypts institution access tokens.
type Vault struct {
	key []byte
}

// New builds a Vault from the environment-supplied secret. An empty secret
// yields a vault that can only serve legacy plaintext/base64 tokens. Secrets
// shorter than 32 bytes are right-padded with zero bytes, longer ones
// truncated, matching the key layout used when tokens were first written.
func New(secret string) *Vault {
	if strings.TrimSpace(secret) == "" {
		log.Println("level=warn component=tokenvault msg=\"no encryption key configured; only legacy token formats will decrypt\"")
		return &Vault{}
	}
	key := make([]byte, keySize)
	copy(key, []byte(secret))
	return &Vault{key: key}
}

// Encrypt seals a plaintext token into the base64(nonce||ciphertext) envelope.
// Used by the account-link flow when storing a freshly exchanged token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if len(v.key) == 0 {
		return "", ErrNoKey
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("tokenvault: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokenvault: gcm init failed: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("tokenvault: nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt recovers the plaintext access token from a stored blob by running
// the ordered fallback chain. On total failure the raw blob is returned with
// ErrUnrecoverable wrapped in the error.
func (v *Vault) Decrypt(blob string) (string, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return "", fmt.Errorf("%w: empty credential blob", ErrUnrecoverable)
	}

	// Strategy 1: authenticated decrypt.
	if len(v.key) > 0 {
		token, err := v.decryptGCM(blob)
		if err == nil {
			return token, nil
		}
		log.Printf("level=warn component=tokenvault strategy=aes_gcm msg=\"authenticated decrypt failed; trying base64 fallback\" err=%v", err)
	} else {
		log.Println("level=warn component=tokenvault strategy=aes_gcm msg=\"skipped; no key configured\"")
	}

	// Strategy 2: plain base64, accepted only when the decoded value matches
	// the aggregator's token prefix convention.
	if decoded, err := base64.StdEncoding.DecodeString(blob); err == nil {
		if strings.HasPrefix(string(decoded), TokenPrefix) {
			log.Println("level=info component=tokenvault strategy=base64 msg=\"legacy base64 token accepted\"")
			return string(decoded), nil
		}
		log.Println("level=warn component=tokenvault strategy=base64 msg=\"decoded value lacks token prefix; passing raw blob through\"")
	} else {
		log.Printf("level=warn component=tokenvault strategy=base64 msg=\"base64 decode failed; passing raw blob through\" err=%v", err)
	}

	// Strategy 3: pass-through. The caller gets the raw blob and a clear
	// error; the aggregator will reject it with a useful message if it is not
	// in fact a plaintext token.
	return blob, fmt.Errorf("%w: returning raw blob", ErrUnrecoverable)
}

func (v *Vault) decryptGCM(blob string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("envelope decode failed: %w", err)
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("gcm init failed: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("envelope shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	return string(plaintext), nil
}
