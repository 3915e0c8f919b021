package model

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand/v2"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// DefaultSeed seeds the identity when none is configured.
var DefaultSeed = []byte("tropic01-model")

// EngineeringPairingKey is the well-known X25519 private key that the model
// (like engineering samples) has registered in pairing slot 0.
var EngineeringPairingKey = []byte{
	0xd0, 0x99, 0x92, 0xb1, 0xf1, 0x7a, 0xbc, 0x4d, 0xb9, 0x37, 0x17, 0x68, 0xa2, 0x7d, 0xa0, 0x5b,
	0x18, 0xfa, 0xb8, 0x56, 0x13, 0xa7, 0x84, 0x2c, 0xa6, 0x4c, 0x79, 0x10, 0xf2, 0x2e, 0x71, 0x6b,
}

// Identity is everything that makes one simulated chip distinguishable:
// its static X25519 key, certificate chain, CHIP_ID and serial code.
type Identity struct {
	StaticKey  *ecdh.PrivateKey
	CertStore  []byte // header and DER certificates, padded to whole GET_INFO blocks
	Root       *x509.Certificate
	ChipID     *tropic01.ChipID
	SerialCode []byte
	UpdateKey  ed25519.PrivateKey // signs ACAB firmware update headers
}

func derive(seed []byte, label string) []byte {
	h := sha256.New()
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write(seed)
	return h.Sum(nil)
}

// seededReader returns a deterministic byte stream for seed and label.
func seededReader(seed []byte, label string) *rand.ChaCha8 {
	var s [32]byte
	copy(s[:], derive(seed, label))
	return rand.NewChaCha8(s)
}

// NewIdentity derives an identity from seed. The same seed and revision
// always give the same keys, certificates and CHIP_ID.
func NewIdentity(seed []byte, rev tropic01.Revision) (*Identity, error) {
	st, err := ecdh.X25519().NewPrivateKey(derive(seed, "stpriv"))
	if err != nil {
		return nil, fmt.Errorf("static key: %w", err)
	}
	id := &Identity{
		StaticKey:  st,
		SerialCode: derive(seed, "serial-code"),
		UpdateKey:  ed25519.NewKeyFromSeed(derive(seed, "fw-update")),
	}
	if err := id.buildCertStore(seed); err != nil {
		return nil, err
	}
	id.ChipID = newChipID(seed, rev)
	return id, nil
}

func (id *Identity) buildCertStore(seed []byte) error {
	rng := seededReader(seed, "certificates")
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := notBefore.AddDate(50, 0, 0)

	template := func(serial int64, cn string) *x509.Certificate {
		return &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               subject(cn),
			NotBefore:             notBefore,
			NotAfter:              notAfter,
			IsCA:                  true,
			BasicConstraintsValid: true,
			KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		}
	}

	rootKey := ed25519.NewKeyFromSeed(derive(seed, "ca-root"))
	tsKey := ed25519.NewKeyFromSeed(derive(seed, "ca-tropic01"))
	xKey := ed25519.NewKeyFromSeed(derive(seed, "ca-xxxx"))

	rootTmpl := template(1, "Tropic Square Root CA v1")
	rootDER, err := x509.CreateCertificate(rng, rootTmpl, rootTmpl, rootKey.Public(), rootKey)
	if err != nil {
		return fmt.Errorf("root certificate: %w", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return err
	}
	tsDER, err := x509.CreateCertificate(rng, template(2, "TROPIC01 CA v1"), root, tsKey.Public(), rootKey)
	if err != nil {
		return fmt.Errorf("TROPIC01 certificate: %w", err)
	}
	ts, err := x509.ParseCertificate(tsDER)
	if err != nil {
		return err
	}
	xDER, err := x509.CreateCertificate(rng, template(3, "TROPIC01-X CA v1"), ts, xKey.Public(), tsKey)
	if err != nil {
		return fmt.Errorf("XXXX certificate: %w", err)
	}
	x, err := x509.ParseCertificate(xDER)
	if err != nil {
		return err
	}
	devDER, err := deviceCertificate(4, "TROPIC01 eSE", x, xKey, id.StaticKey.PublicKey(), notBefore, notAfter)
	if err != nil {
		return fmt.Errorf("device certificate: %w", err)
	}

	certs := [tropic01.NumCertificates][]byte{devDER, xDER, tsDER, rootDER}
	store := []byte{tropic01.CertStoreVersion, tropic01.NumCertificates}
	for _, der := range certs {
		store = binary.BigEndian.AppendUint16(store, uint16(len(der)))
	}
	for _, der := range certs {
		store = append(store, der...)
	}
	if len(store) > tropic01.CertStoreMax {
		return fmt.Errorf("certificate store of %d bytes exceeds %d", len(store), tropic01.CertStoreMax)
	}
	if pad := len(store) % tropic01.InfoBlockSize; pad != 0 {
		store = append(store, make([]byte, tropic01.InfoBlockSize-pad)...)
	}
	id.CertStore = store
	id.Root = root
	return nil
}

func subject(cn string) pkix.Name {
	return pkix.Name{Organization: []string{"Tropic Square s.r.o."}, CommonName: cn}
}

var (
	oidEd25519  = asn1.ObjectIdentifier{1, 3, 101, 112}
	oidX25519   = asn1.ObjectIdentifier{1, 3, 101, 110}
	oidKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}
)

// deviceCertificate issues the leaf certificate for the X25519 static key.
// crypto/x509 only signs keys it can verify with, so the TBSCertificate is
// assembled here and signed with the Ed25519 issuer key.
func deviceCertificate(serial int64, cn string, issuer *x509.Certificate, issuerKey ed25519.PrivateKey,
	pub *ecdh.PublicKey, notBefore, notAfter time.Time) ([]byte, error) {
	name, err := asn1.Marshal(subject(cn).ToRDNSequence())
	if err != nil {
		return nil, err
	}
	ed25519Alg := func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidEd25519)
		})
	}

	var tbs cryptobyte.Builder
	tbs.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.Tag(0).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddASN1Int64(2) // v3
		})
		b.AddASN1Int64(serial)
		ed25519Alg(b)
		b.AddBytes(issuer.RawSubject)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1UTCTime(notBefore)
			b.AddASN1GeneralizedTime(notAfter)
		})
		b.AddBytes(name)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidX25519)
			})
			b.AddASN1BitString(pub.Bytes())
		})
		b.AddASN1(cbasn1.Tag(3).Constructed().ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidKeyUsage)
					b.AddASN1Boolean(true)
					b.AddASN1(cbasn1.OCTET_STRING, func(b *cryptobyte.Builder) {
						// keyAgreement is bit 4; three unused trailing bits.
						b.AddASN1(cbasn1.BIT_STRING, func(b *cryptobyte.Builder) {
							b.AddBytes([]byte{3, 0x08})
						})
					})
				})
			})
		})
	})
	tbsDER, err := tbs.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode TBSCertificate: %w", err)
	}

	var cert cryptobyte.Builder
	cert.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(tbsDER)
		ed25519Alg(b)
		b.AddASN1BitString(ed25519.Sign(issuerKey, tbsDER))
	})
	return cert.Bytes()
}

func newChipID(seed []byte, rev tropic01.Revision) *tropic01.ChipID {
	r := derive(seed, "chip-id")
	c := &tropic01.ChipID{
		Version:          [4]byte{0, 0, 0, 1},
		PackageTypeID:    tropic01.PackageQFN32,
		ProvisioningDate: binary.BigEndian.Uint16(r[0:2]),
		HSMVersion:       [4]byte{0, 1, 0, 0},
		ProgVersion:      [4]byte{0, 1, 0, 0},
		ProvTemplateVer:  [2]byte{1, 0},
		ProvSpecVer:      [2]byte{1, 0},
	}
	c.FLChipInfo[0] = 0x01
	c.FuncTestInfo[0] = 0x01
	silicon := "ACAB"
	if rev == tropic01.RevisionABAB {
		silicon = "ABAB"
	}
	copy(c.SiliconRev[:], silicon)

	const fab, pn = tropic01.FabTropicSquareLab, 0x001
	c.ProvVerFabIDPN = [4]byte{0x01, byte(fab >> 4), byte(fab&0xF)<<4 | byte(pn>>8), byte(pn & 0xFF)}

	c.SerialNumber.SN = 0x01
	copy(c.SerialNumber.FabData[:], c.ProvVerFabIDPN[1:4])
	c.SerialNumber.FabDate = binary.BigEndian.Uint16(r[2:4])
	copy(c.SerialNumber.LotID[:], r[4:9])
	c.SerialNumber.WaferID = r[9] & 0x1F
	c.SerialNumber.X = binary.BigEndian.Uint16(r[10:12]) & 0x3FF
	c.SerialNumber.Y = binary.BigEndian.Uint16(r[12:14]) & 0x3FF

	const partNumber = "TR01-C2S-T101"
	c.PartNumberData[0] = byte(len(partNumber))
	copy(c.PartNumberData[1:], partNumber)
	copy(c.ProvTemplateTag[:], r[14:18])
	copy(c.ProvSpecTag[:], r[18:22])
	copy(c.BatchID[:], r[22:27])
	return c
}
