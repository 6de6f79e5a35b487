package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// E2EEKeyPair is one side of the optional end-to-end key exchange carried in
// QuicOffer.E2EEPubKeyBase64 / the answer path. X25519 is used because it is
// the ecdh.Curve the standard library exposes without a KDF dependency; the
// shared secret is reduced to an AES-256 key with a single SHA-256 pass
// rather than a full HKDF, since only one key is ever derived per session
// (no key separation across multiple derived secrets is needed).
type E2EEKeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateE2EEKeyPair creates a fresh X25519 key pair for one session.
func GenerateE2EEKeyPair() (*E2EEKeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generating e2ee key pair: %w", err)
	}
	return &E2EEKeyPair{private: priv}, nil
}

// PublicKeyBase64 is the value to place in QuicOffer.E2EEPubKeyBase64.
func (k *E2EEKeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.private.PublicKey().Bytes())
}

// SharedCipher derives the AEAD both sides use for RelaySendE2EE /
// RecvRelayDataE2EE from the peer's exchanged public key.
func (k *E2EEKeyPair) SharedCipher(peerPubKeyBase64 string) (cipher.AEAD, error) {
	peerBytes, err := base64.StdEncoding.DecodeString(peerPubKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("transport: decoding peer e2ee public key: %w", err)
	}
	peerKey, err := ecdh.X25519().NewPublicKey(peerBytes)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing peer e2ee public key: %w", err)
	}
	secret, err := k.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("transport: computing e2ee shared secret: %w", err)
	}

	aesKey := sha256.Sum256(secret)
	block, err := aes.NewCipher(aesKey[:])
	if err != nil {
		return nil, fmt.Errorf("transport: building aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
