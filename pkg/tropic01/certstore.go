package tropic01

import (
	"crypto/ecdh"
	"crypto/x509"
	"encoding/binary"
	"fmt"
)

// Certificate store layout.
const (
	CertStoreVersion = 1
	NumCertificates  = 4
	CertStoreMax     = 3840

	certStoreHeaderSize = 2 + 2*NumCertificates
)

// Certificate positions in the store, leaf first.
const (
	CertDevice = iota
	CertXXXX
	CertTROPIC01
	CertRoot
)

// CertStore holds the DER certificates read from the chip.
type CertStore struct {
	Certs [NumCertificates][]byte
}

// ParseCertStore splits a raw store (header plus concatenated DER) into
// certificates. Trailing bytes after the last certificate are ignored.
func ParseCertStore(raw []byte) (*CertStore, error) {
	if len(raw) < certStoreHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCertStoreInvalid, len(raw))
	}
	if raw[0] != CertStoreVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCertStoreInvalid, raw[0])
	}
	if raw[1] != NumCertificates {
		return nil, fmt.Errorf("%w: %d certificates", ErrCertStoreInvalid, raw[1])
	}
	total, err := certStoreLength(raw)
	if err != nil {
		return nil, err
	}
	if len(raw) < total {
		return nil, fmt.Errorf("%w: store truncated at %d of %d bytes", ErrCertStoreInvalid, len(raw), total)
	}
	var s CertStore
	off := certStoreHeaderSize
	for i := range NumCertificates {
		n := int(binary.BigEndian.Uint16(raw[2+2*i:]))
		s.Certs[i] = append([]byte(nil), raw[off:off+n]...)
		off += n
	}
	return &s, nil
}

func certStoreLength(raw []byte) (int, error) {
	total := certStoreHeaderSize
	for i := range NumCertificates {
		n := int(binary.BigEndian.Uint16(raw[2+2*i:]))
		if n == 0 {
			return 0, fmt.Errorf("%w: certificate %d is empty", ErrCertStoreInvalid, i)
		}
		total += n
	}
	if total > CertStoreMax {
		return 0, fmt.Errorf("%w: %d bytes exceeds %d", ErrCertStoreInvalid, total, CertStoreMax)
	}
	return total, nil
}

// GetCertStore reads the certificate store block by block, stopping once the
// lengths in the header are satisfied.
func (d *Device) GetCertStore() (*CertStore, error) {
	raw := make([]byte, 0, CertStoreMax)
	total := CertStoreMax
	for block := 0; block < CertStoreMax/InfoBlockSize && len(raw) < total; block++ {
		b, err := d.GetInfo(InfoCertStore, byte(block))
		if err != nil {
			return nil, fmt.Errorf("certificate block %d: %w", block, err)
		}
		if len(b) != InfoBlockSize {
			return nil, fmt.Errorf("%w: certificate block %d has %d bytes", ErrCertStoreInvalid, block, len(b))
		}
		raw = append(raw, b...)
		if block == 0 {
			if raw[0] != CertStoreVersion || raw[1] != NumCertificates {
				return nil, fmt.Errorf("%w: header %s", ErrCertStoreInvalid, hexUpper(raw[:2]))
			}
			if total, err = certStoreLength(raw); err != nil {
				return nil, err
			}
		}
	}
	return ParseCertStore(raw)
}

// Certificates parses every DER certificate, leaf first.
func (s *CertStore) Certificates() ([]*x509.Certificate, error) {
	out := make([]*x509.Certificate, 0, NumCertificates)
	for i, der := range s.Certs {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", ErrCertStoreInvalid, i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// StaticPublicKey extracts the chip's X25519 static key (STPUB) from the
// device certificate.
func (s *CertStore) StaticPublicKey() (*ecdh.PublicKey, error) {
	c, err := x509.ParseCertificate(s.Certs[CertDevice])
	if err != nil {
		return nil, fmt.Errorf("%w: device certificate: %v", ErrCertStoreInvalid, err)
	}
	pub, err := x509.ParsePKIXPublicKey(c.RawSubjectPublicKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: device key: %v", ErrCertStoreInvalid, err)
	}
	key, ok := pub.(*ecdh.PublicKey)
	if !ok || key.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("%w: device key is %T, not X25519", ErrCertStoreInvalid, pub)
	}
	return key, nil
}

// Verify checks the device certificate chains to roots through the store's
// intermediates.
func (s *CertStore) Verify(roots *x509.CertPool) error {
	certs, err := s.Certificates()
	if err != nil {
		return err
	}
	inter := x509.NewCertPool()
	inter.AddCert(certs[CertXXXX])
	inter.AddCert(certs[CertTROPIC01])
	_, err = certs[CertDevice].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: chain: %v", ErrCertStoreInvalid, err)
	}
	return nil
}

// RootPool returns a pool holding only the store's own root certificate.
func (s *CertStore) RootPool() (*x509.CertPool, error) {
	root, err := x509.ParseCertificate(s.Certs[CertRoot])
	if err != nil {
		return nil, fmt.Errorf("%w: root certificate: %v", ErrCertStoreInvalid, err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return pool, nil
}
