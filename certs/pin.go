package certs

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBadFingerprint is returned for a fingerprint that is not a
	// base64 or hex encoded SHA-256 digest.
	ErrBadFingerprint = errors.New("certs: fingerprint must be a SHA-256 digest")
	// ErrFingerprintMismatch is returned by the handshake when the server's
	// certificate does not match the pin.
	ErrFingerprintMismatch = errors.New("certs: server certificate does not match pinned fingerprint")
	// ErrCertificateExpired is returned by the handshake for a pinned
	// certificate outside its validity window.
	ErrCertificateExpired = errors.New("certs: pinned certificate is not currently valid")
)

// EncodeFingerprint returns the standard base64 form of a SHA-256 digest.
func EncodeFingerprint(fp [32]byte) string {
	return base64.StdEncoding.EncodeToString(fp[:])
}

// ParseFingerprint decodes a SHA-256 fingerprint given as standard or URL
// base64, or as hex with optional colons.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	s = strings.TrimSpace(s)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == len(fp) {
			copy(fp[:], b)
			return fp, nil
		}
	}
	if b, err := hex.DecodeString(strings.ReplaceAll(s, ":", "")); err == nil && len(b) == len(fp) {
		copy(fp[:], b)
		return fp, nil
	}
	return fp, fmt.Errorf("%w: %q", ErrBadFingerprint, s)
}

// PinnedTLSConfig returns a client TLS configuration that accepts exactly
// the certificate whose SHA-256 digest is fingerprint. The chain is not
// verified against system roots, but the leaf must be within its validity
// period and no longer than MaxValidity.
func PinnedTLSConfig(fingerprint string, nextProtos ...string) (*tls.Config, error) {
	want, err := ParseFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		NextProtos:         nextProtos,
		InsecureSkipVerify: true, // replaced by VerifyPeerCertificate
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPinned(rawCerts, want, time.Now())
		},
	}, nil
}

func verifyPinned(rawCerts [][]byte, want [32]byte, now time.Time) error {
	if len(rawCerts) == 0 {
		return ErrFingerprintMismatch
	}
	got := sha256.Sum256(rawCerts[0])
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return fmt.Errorf("%w: got %s", ErrFingerprintMismatch, EncodeFingerprint(got))
	}

	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("parse pinned certificate: %w", err)
	}
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return ErrCertificateExpired
	}
	if leaf.NotAfter.Sub(leaf.NotBefore) > MaxValidity+time.Minute {
		return fmt.Errorf("%w: validity %s exceeds %s", ErrCertificateExpired, leaf.NotAfter.Sub(leaf.NotBefore), MaxValidity)
	}
	return nil
}

// InsecureTLSConfig returns a client TLS configuration that accepts any
// server certificate. It exists for local development only.
func InsecureTLSConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		NextProtos:         nextProtos,
		InsecureSkipVerify: true,
	}
}
