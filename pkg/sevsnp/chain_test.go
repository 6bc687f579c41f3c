package sevsnp

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testChain builds an in-memory ARK -> ASK -> VCEK chain shaped the way
// AMD's KDS mints the real one: RSASSA-PSS signatures throughout, the
// canonical AMD distinguished name on every certificate, an EC P-384
// subject key on the VCEK, and the SEV SVN/HWID/product extensions — so
// Chain.Verify and VerifyReportSignature can be exercised without the
// compiled-in placeholder certificates.
type testChain struct {
	arkKey  *rsa.PrivateKey
	askKey  *rsa.PrivateKey
	vcekKey *ecdsa.PrivateKey

	arkDER, askDER, vcekDER []byte
}

func amdTestName(cn string) pkix.Name {
	return pkix.Name{
		Country:            []string{"US"},
		Locality:           []string{"Santa Clara"},
		Province:           []string{"CA"},
		Organization:       []string{"Advanced Micro Devices"},
		OrganizationalUnit: []string{"Engineering"},
		CommonName:         cn,
	}
}

func buildTestChain(t *testing.T, tcb TCBParts, hwid [64]byte) *testChain {
	t.Helper()

	arkKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	askKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	vcekKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	now := time.Now()
	notBefore, notAfter := now.Add(-time.Hour), now.Add(24*time.Hour)

	arkTmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            amdTestName("ARK-Genoa"),
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		IsCA:               true,
		BasicConstraintsValid: true,
		KeyUsage:           x509.KeyUsageCertSign,
		SignatureAlgorithm: x509.SHA384WithRSAPSS,
	}
	arkDER, err := x509.CreateCertificate(rand.Reader, arkTmpl, arkTmpl, &arkKey.PublicKey, arkKey)
	require.NoError(t, err)
	ark, err := x509.ParseCertificate(arkDER)
	require.NoError(t, err)

	askTmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(2),
		Subject:            amdTestName("SEV-Genoa"),
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		IsCA:               true,
		BasicConstraintsValid: true,
		KeyUsage:           x509.KeyUsageCertSign,
		SignatureAlgorithm: x509.SHA384WithRSAPSS,
	}
	askDER, err := x509.CreateCertificate(rand.Reader, askTmpl, ark, &askKey.PublicKey, arkKey)
	require.NoError(t, err)
	ask, err := x509.ParseCertificate(askDER)
	require.NoError(t, err)

	productExt, err := asn1.MarshalWithParams("Genoa", "ia5")
	require.NoError(t, err)
	vcekTmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(3),
		Subject:            amdTestName("SEV-VCEK"),
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SignatureAlgorithm: x509.SHA384WithRSAPSS,
		ExtraExtensions: []pkix.Extension{
			{Id: oidProductName, Value: productExt},
			tcbExtension(t, oidBootLoaderSVN, int(tcb.BlSpl)),
			tcbExtension(t, oidTEESVN, int(tcb.TeeSpl)),
			tcbExtension(t, oidSNPSVN, int(tcb.SnpSpl)),
			tcbExtension(t, oidMicrocodeSVN, int(tcb.UcodeSpl)),
			{Id: oidHardwareID, Value: hwid[:]},
		},
	}
	vcekDER, err := x509.CreateCertificate(rand.Reader, vcekTmpl, ask, &vcekKey.PublicKey, askKey)
	require.NoError(t, err)

	return &testChain{arkKey: arkKey, askKey: askKey, vcekKey: vcekKey, arkDER: arkDER, askDER: askDER, vcekDER: vcekDER}
}

func tcbExtension(t *testing.T, oid asn1.ObjectIdentifier, value int) pkix.Extension {
	t.Helper()
	v, err := asn1.Marshal(value)
	require.NoError(t, err)
	return pkix.Extension{Id: oid, Value: v}
}

func TestChainVerifySucceedsForWellFormedChain(t *testing.T) {
	tc := buildTestChain(t, TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 72}, [64]byte{})
	chain, err := NewChain(tc.arkDER, tc.askDER, tc.vcekDER)
	require.NoError(t, err)
	require.Equal(t, ProductGenoa, chain.Product)
	require.NoError(t, chain.Verify(time.Now()))
}

func TestChainVerifyRejectsExpiredCertificate(t *testing.T) {
	tc := buildTestChain(t, TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 72}, [64]byte{})
	chain, err := NewChain(tc.arkDER, tc.askDER, tc.vcekDER)
	require.NoError(t, err)
	require.Error(t, chain.Verify(time.Now().Add(48*time.Hour)))
}

func TestChainVerifyRejectsWrongSigner(t *testing.T) {
	tc1 := buildTestChain(t, TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 72}, [64]byte{})
	tc2 := buildTestChain(t, TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 72}, [64]byte{})

	// Splice tc2's VCEK (signed by tc2's ASK) onto tc1's ARK/ASK.
	chain, err := NewChain(tc1.arkDER, tc1.askDER, tc2.vcekDER)
	require.NoError(t, err)
	require.Error(t, chain.Verify(time.Now()))
}

func TestParseVCEKRejectsVLEK(t *testing.T) {
	tc := buildTestChain(t, TCBParts{}, [64]byte{})

	// Re-mint the VCEK with a CSP_ID extension, which marks a VLEK.
	ask, err := x509.ParseCertificate(tc.askDER)
	require.NoError(t, err)
	productExt, err := asn1.MarshalWithParams("Genoa", "ia5")
	require.NoError(t, err)
	var hwid [64]byte
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(4),
		Subject:            amdTestName("SEV-VLEK"),
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		SignatureAlgorithm: x509.SHA384WithRSAPSS,
		ExtraExtensions: []pkix.Extension{
			{Id: oidProductName, Value: productExt},
			tcbExtension(t, oidBootLoaderSVN, 0),
			tcbExtension(t, oidTEESVN, 0),
			tcbExtension(t, oidSNPSVN, 0),
			tcbExtension(t, oidMicrocodeSVN, 0),
			{Id: oidHardwareID, Value: hwid[:]},
			{Id: oidCSPID, Value: []byte("AZURE")},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ask, &tc.vcekKey.PublicKey, tc.askKey)
	require.NoError(t, err)

	_, err = ParseVCEK(der)
	require.ErrorContains(t, err, "VLEK")
}

func TestParseVCEKRejectsNonPSSSignature(t *testing.T) {
	tc := buildTestChain(t, TCBParts{}, [64]byte{})
	ask, err := x509.ParseCertificate(tc.askDER)
	require.NoError(t, err)
	productExt, err := asn1.MarshalWithParams("Genoa", "ia5")
	require.NoError(t, err)
	var hwid [64]byte
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(5),
		Subject:            amdTestName("SEV-VCEK"),
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		SignatureAlgorithm: x509.SHA384WithRSA, // PKCS#1 v1.5, not PSS
		ExtraExtensions: []pkix.Extension{
			{Id: oidProductName, Value: productExt},
			tcbExtension(t, oidBootLoaderSVN, 0),
			tcbExtension(t, oidTEESVN, 0),
			tcbExtension(t, oidSNPSVN, 0),
			tcbExtension(t, oidMicrocodeSVN, 0),
			{Id: oidHardwareID, Value: hwid[:]},
		},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ask, &tc.vcekKey.PublicKey, tc.askKey)
	require.NoError(t, err)

	_, err = ParseVCEK(der)
	require.ErrorContains(t, err, "signature algorithm")
}

func TestChainVerifyRejectsWrongDN(t *testing.T) {
	tc := buildTestChain(t, TCBParts{}, [64]byte{})
	chain, err := NewChain(tc.arkDER, tc.askDER, tc.vcekDER)
	require.NoError(t, err)

	// Forge an ARK with the right CN but the wrong organization.
	badName := amdTestName("ARK-Genoa")
	badName.Organization = []string{"Advanced Macro Devices"}
	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(6),
		Subject:            badName,
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		IsCA:               true,
		BasicConstraintsValid: true,
		KeyUsage:           x509.KeyUsageCertSign,
		SignatureAlgorithm: x509.SHA384WithRSAPSS,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &tc.arkKey.PublicKey, tc.arkKey)
	require.NoError(t, err)
	chain.ARK, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	require.ErrorContains(t, chain.Verify(time.Now()), "organization")
}
