// Package certs configures TLS for the player's transports.
//
// Media servers commonly present short-lived self-signed certificates and
// publish their SHA-256 fingerprint out of band, the way browsers accept
// serverCertificateHashes for WebTransport. PinnedTLSConfig verifies the
// server against such a fingerprint instead of the system roots. Generate
// produces matching certificates for local servers and tests.
package certs
