package sevsnp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRawReport(t *testing.T, version ReportVersion, extra int) []byte {
	t.Helper()
	size := baseReportSize + extra
	raw := make([]byte, size)
	binary.LittleEndian.PutUint32(raw[offsetVersion:], uint32(version))
	binary.LittleEndian.PutUint32(raw[offsetGuestSVN:], 5)
	binary.LittleEndian.PutUint64(raw[offsetPolicy:], 0x0000_0000_0001_0100) // SMT bit + ABI 1.0
	binary.LittleEndian.PutUint64(raw[offsetPlatformInfo:], 0x3)            // SMT + TSME enabled
	binary.LittleEndian.PutUint32(raw[offsetVMPL:], 0)
	binary.LittleEndian.PutUint32(raw[offsetSignatureAlgo:], 1)
	binary.LittleEndian.PutUint64(raw[offsetCurrentTCB:], TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 209}.ToUint64())
	binary.LittleEndian.PutUint64(raw[offsetReportedTCB:], TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 209}.ToUint64())
	binary.LittleEndian.PutUint64(raw[offsetCommittedTCB:], TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 209}.ToUint64())
	binary.LittleEndian.PutUint64(raw[offsetLaunchTCB:], TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 209}.ToUint64())
	raw[offsetCurrentBuild] = 21
	raw[offsetCommittedBuild] = 21
	raw[offsetCurrentMajor] = 1
	raw[offsetCurrentMinor] = 55
	raw[offsetCommittedMajor] = 1
	raw[offsetCommittedMinor] = 55
	copy(raw[offsetReportData:], []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"))
	copy(raw[offsetMeasurement:], []byte("measurement-48-bytes-padded-xxxxxxxxxxxxxxxxxxxxxxxx"[:48]))
	copy(raw[offsetChipID:], make([]byte, 64))

	if extra > 0 {
		copy(raw[baseReportSize:], []byte("rtmr1-48-bytes-padded-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"[:48]))
		copy(raw[baseReportSize+rtmrSize:], []byte("rtmr2-48-bytes-padded-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"[:48]))
	}
	return raw
}

func TestParseReportRoundtrip(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	report, err := ParseReport(raw)
	require.NoError(t, err)
	require.Equal(t, ReportVersion2, report.Version)
	require.Equal(t, uint32(5), report.GuestSVN)
	require.Equal(t, uint8(21), report.CurrentBuild)
	require.Equal(t, TCBParts{BlSpl: 7, TeeSpl: 0, SnpSpl: 14, UcodeSpl: 209}, report.ReportedTCBParts())
	require.Empty(t, report.RuntimeRegisters)
}

func TestParseReportMultiplatform(t *testing.T) {
	raw := buildRawReport(t, ReportVersion3, multiplatformExtraSize)
	report, err := ParseReport(raw)
	require.NoError(t, err)
	require.Len(t, report.RuntimeRegisters, 2)

	m := report.MeasurementFor(SnpTdxMultiplatformV1)
	require.Len(t, m.Registers, 3)
}

func TestParseReportRejectsBadLength(t *testing.T) {
	_, err := ParseReport(make([]byte, 100))
	require.Error(t, err)
}

func TestParseReportRejectsVersionExtraMismatch(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	raw = append(raw, make([]byte, multiplatformExtraSize)...)
	_, err := ParseReport(raw)
	require.Error(t, err)
}

func TestTLSAndHPKEFingerprintsSplitReportData(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	report, err := ParseReport(raw)
	require.NoError(t, err)
	require.NotEqual(t, report.TLSPublicKeyFingerprint(), report.HPKEPublicKeyHex())
	require.Len(t, report.TLSPublicKeyFingerprint(), 64)
	require.Len(t, report.HPKEPublicKeyHex(), 64)
}

func TestGuestPolicyUnpacksABIAndSMT(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	report, err := ParseReport(raw)
	require.NoError(t, err)
	policy := report.GuestPolicy()
	require.True(t, policy.SMT)
	require.Equal(t, uint8(1), policy.ABIMajor)
	require.Equal(t, uint8(0), policy.ABIMinor)
}

func TestSignerInfoRejectsUndefinedSigningKey(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	binary.LittleEndian.PutUint32(raw[offsetSignerInfo:], 0x3<<signerSigningKeyShift)
	report, err := ParseReport(raw)
	require.NoError(t, err)
	_, err = report.SignerInfo()
	require.Error(t, err)
}
