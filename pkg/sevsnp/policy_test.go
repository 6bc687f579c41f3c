package sevsnp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultCompliantReport(t *testing.T) *Report {
	t.Helper()
	raw := buildRawReport(t, ReportVersion2, 0)
	r, err := ParseReport(raw)
	require.NoError(t, err)
	return r
}

func TestValidatePolicyDefaultsAcceptCompliantReport(t *testing.T) {
	r := defaultCompliantReport(t)
	require.NoError(t, ValidatePolicy(r, DefaultValidationOptions()))
}

func TestValidatePolicyRejectsDebugWhenUnauthorized(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	binary.LittleEndian.PutUint64(raw[offsetPolicy:], 1<<policyDebugBit|1<<policySMTBit)
	r, err := ParseReport(raw)
	require.NoError(t, err)

	require.Error(t, ValidatePolicy(r, DefaultValidationOptions()))
}

func TestValidatePolicyRejectsBelowMinimumBuild(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	raw[offsetCurrentBuild] = 1
	raw[offsetCommittedBuild] = 1 // match current so only the minimum-build check fails
	r, err := ParseReport(raw)
	require.NoError(t, err)

	require.Error(t, ValidatePolicy(r, DefaultValidationOptions()))
}

func TestValidatePolicyRejectsBelowMinimumTCB(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	binary.LittleEndian.PutUint64(raw[offsetReportedTCB:], TCBParts{}.ToUint64())
	r, err := ParseReport(raw)
	require.NoError(t, err)

	require.Error(t, ValidatePolicy(r, DefaultValidationOptions()))
}

func TestValidatePolicyRejectsProvisionalFirmware(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	raw[offsetCurrentBuild] = 22 // running ahead of the committed build
	r, err := ParseReport(raw)
	require.NoError(t, err)

	require.ErrorContains(t, ValidatePolicy(r, DefaultValidationOptions()), "committed")
}

func TestValidatePolicyUnsupportedKnobsFailExplicitly(t *testing.T) {
	r := defaultCompliantReport(t)
	opts := DefaultValidationOptions()
	opts.RequireAuthorKey = true
	require.ErrorContains(t, ValidatePolicy(r, opts), "not yet implemented")
}

func TestValidatePolicySkipsUnsetFields(t *testing.T) {
	r := defaultCompliantReport(t)
	require.NoError(t, ValidatePolicy(r, ValidationOptions{}))
}

func TestValidatePolicyFieldEquality(t *testing.T) {
	r := defaultCompliantReport(t)
	opts := ValidationOptions{Equality: &FieldEquality{ChipID: r.ChipID[:]}}
	require.NoError(t, ValidatePolicy(r, opts))

	bad := make([]byte, 64)
	bad[0] = 0xFF
	opts.Equality.ChipID = bad
	require.Error(t, ValidatePolicy(r, opts))
}

func TestValidatePolicyVMPLRange(t *testing.T) {
	raw := buildRawReport(t, ReportVersion2, 0)
	binary.LittleEndian.PutUint32(raw[offsetVMPL:], 9)
	r, err := ParseReport(raw)
	require.NoError(t, err)

	vmpl := uint32(9)
	require.Error(t, ValidatePolicy(r, ValidationOptions{RequiredVMPL: &vmpl}))
}
