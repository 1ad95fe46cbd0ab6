// Package walletutil extracts a TLS client identity from an Oracle wallet
// so callers can populate a tls.Config for the (externally supplied)
// transport the core hands encrypted bytes to. The core itself never
// terminates TLS — per the Non-goals, that stays the caller's concern —
// but decoding the wallet's PKCS#12 container to hand over a
// tls.Certificate and CA pool is squarely "constructing what gets handed
// to the opaque transport".
package walletutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// Identity is the TLS material recovered from a wallet: a client
// certificate/key pair plus any CA certificates bundled alongside it.
type Identity struct {
	Certificate tls.Certificate
	CAPool      *x509.CertPool
}

// Load reads and decodes a PKCS#12 wallet file (Oracle's cwallet.sso /
// ewallet.p12 format) into an Identity.
func Load(path, password string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("walletutil: reading wallet %s: %w", path, err)
	}
	return Decode(data, password)
}

// Decode parses raw PKCS#12 bytes into an Identity.
func Decode(pfxData []byte, password string) (*Identity, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(pfxData, password)
	if err != nil {
		return nil, fmt.Errorf("walletutil: decoding PKCS#12 wallet: %w", err)
	}

	pool := x509.NewCertPool()
	for _, ca := range caCerts {
		pool.AddCert(ca)
	}

	return &Identity{
		Certificate: tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		CAPool: pool,
	}, nil
}

// ClientTLSConfig builds a *tls.Config presenting this identity as the
// client certificate and trusting the wallet's bundled CAs, for callers
// that supply their own TLS-wrapped net.Conn to session.Dial.
func (id *Identity) ClientTLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		RootCAs:      id.CAPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
}
