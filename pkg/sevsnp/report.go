package sevsnp

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Report byte layout, per AMD's ATTESTATION_REPORT (Table 21 of the
// SEV-SNP ABI spec). All multi-byte integers are little-endian.
const (
	offsetVersion         = 0
	offsetGuestSVN        = 4
	offsetPolicy          = 8
	offsetFamilyID        = 16
	offsetImageID         = 32
	offsetVMPL            = 48
	offsetSignatureAlgo   = 52
	offsetCurrentTCB      = 56
	offsetPlatformInfo    = 64
	offsetSignerInfo      = 72
	offsetReportData      = 80
	offsetMeasurement     = 144
	offsetHostData        = 192
	offsetIDKeyDigest     = 224
	offsetAuthorKeyDigest = 272
	offsetReportID        = 320
	offsetReportIDMA      = 352
	offsetReportedTCB     = 384
	offsetChipID          = 416
	offsetCommittedTCB    = 480
	offsetCurrentBuild    = 488
	offsetCurrentMinor    = 489
	offsetCurrentMajor    = 490
	offsetCommittedBuild  = 492
	offsetCommittedMinor  = 493
	offsetCommittedMajor  = 494
	offsetLaunchTCB       = 496
	offsetSignature       = 672

	// baseReportSize is the fixed SEV-SNP ABI report size (versions 1
	// and 2). Newer multiplatform reports append rtmr1/rtmr2 (48 bytes
	// each) after the signature.
	baseReportSize         = 1184
	rtmrSize               = 48
	multiplatformExtraSize = 2 * rtmrSize
)

// ReportVersion identifies which register layout a parsed Report carries
// — distinct from PredicateType, which names how the *document* was
// classified; a version-3 report is always read alongside a
// SnpTdxMultiplatformV1 predicate, but the byte layout is what the
// parser actually keys off of.
type ReportVersion uint32

const (
	ReportVersion1 ReportVersion = 1 // deprecated
	ReportVersion2 ReportVersion = 2
	ReportVersion3 ReportVersion = 3 // carries trailing rtmr1/rtmr2
)

// Report is the parsed SEV-SNP attestation report. Every field is read by
// fixed offset from the raw bytes; bit-packed fields (Policy,
// PlatformInfo, SignerInfo) keep their raw integer form here and are
// unpacked into typed records on demand by GuestPolicy, PlatformInfo, and
// SignerInfo — the raw integer is the single canonical form.
type Report struct {
	Version          ReportVersion
	GuestSVN         uint32
	Policy           uint64
	FamilyID         [16]byte
	ImageID          [16]byte
	VMPL             uint32
	SignatureAlgo    uint32
	CurrentTCB       uint64
	PlatformInfoRaw  uint64
	SignerInfoRaw    uint32
	ReportData       [64]byte
	Measurement      [48]byte
	HostData         [32]byte
	IDKeyDigest      [48]byte
	AuthorKeyDigest  [48]byte
	ReportID         [32]byte
	ReportIDMA       [32]byte
	ReportedTCB      uint64
	ChipID           [64]byte
	CommittedTCB     uint64
	CurrentBuild     uint8
	CurrentMinor     uint8
	CurrentMajor     uint8
	CommittedBuild   uint8
	CommittedMinor   uint8
	CommittedMajor   uint8
	LaunchTCB        uint64
	Signature        [512]byte
	RuntimeRegisters [][48]byte // rtmr1, rtmr2, ... present only on ReportVersion3
}

// ParseReport decodes raw SEV-SNP report bytes into a Report. It returns
// a plain error when the buffer's length matches no known layout, when
// the version is unsupported, or when the length disagrees with the version.
func ParseReport(raw []byte) (*Report, error) {
	var extra int
	switch {
	case len(raw) == baseReportSize:
		extra = 0
	case len(raw) == baseReportSize+multiplatformExtraSize:
		extra = multiplatformExtraSize
	default:
		return nil, fmt.Errorf("sevsnp: report has unrecognized length %d bytes", len(raw))
	}

	r := &Report{}
	r.Version = ReportVersion(binary.LittleEndian.Uint32(raw[offsetVersion:]))
	switch r.Version {
	case ReportVersion1, ReportVersion2:
		if extra != 0 {
			return nil, fmt.Errorf("sevsnp: report version %d does not carry runtime registers", r.Version)
		}
	case ReportVersion3:
		if extra == 0 {
			return nil, fmt.Errorf("sevsnp: report version 3 is missing runtime measurement registers")
		}
	default:
		return nil, fmt.Errorf("sevsnp: unsupported report version %d", r.Version)
	}

	r.GuestSVN = binary.LittleEndian.Uint32(raw[offsetGuestSVN:])
	r.Policy = binary.LittleEndian.Uint64(raw[offsetPolicy:])
	copy(r.FamilyID[:], raw[offsetFamilyID:offsetFamilyID+16])
	copy(r.ImageID[:], raw[offsetImageID:offsetImageID+16])
	r.VMPL = binary.LittleEndian.Uint32(raw[offsetVMPL:])
	r.SignatureAlgo = binary.LittleEndian.Uint32(raw[offsetSignatureAlgo:])
	r.CurrentTCB = binary.LittleEndian.Uint64(raw[offsetCurrentTCB:])
	r.PlatformInfoRaw = binary.LittleEndian.Uint64(raw[offsetPlatformInfo:])
	r.SignerInfoRaw = binary.LittleEndian.Uint32(raw[offsetSignerInfo:])
	copy(r.ReportData[:], raw[offsetReportData:offsetReportData+64])
	copy(r.Measurement[:], raw[offsetMeasurement:offsetMeasurement+48])
	copy(r.HostData[:], raw[offsetHostData:offsetHostData+32])
	copy(r.IDKeyDigest[:], raw[offsetIDKeyDigest:offsetIDKeyDigest+48])
	copy(r.AuthorKeyDigest[:], raw[offsetAuthorKeyDigest:offsetAuthorKeyDigest+48])
	copy(r.ReportID[:], raw[offsetReportID:offsetReportID+32])
	copy(r.ReportIDMA[:], raw[offsetReportIDMA:offsetReportIDMA+32])
	r.ReportedTCB = binary.LittleEndian.Uint64(raw[offsetReportedTCB:])
	copy(r.ChipID[:], raw[offsetChipID:offsetChipID+64])
	r.CommittedTCB = binary.LittleEndian.Uint64(raw[offsetCommittedTCB:])
	r.CurrentBuild = raw[offsetCurrentBuild]
	r.CurrentMinor = raw[offsetCurrentMinor]
	r.CurrentMajor = raw[offsetCurrentMajor]
	r.CommittedBuild = raw[offsetCommittedBuild]
	r.CommittedMinor = raw[offsetCommittedMinor]
	r.CommittedMajor = raw[offsetCommittedMajor]
	r.LaunchTCB = binary.LittleEndian.Uint64(raw[offsetLaunchTCB:])
	copy(r.Signature[:], raw[offsetSignature:offsetSignature+512])

	if extra > 0 {
		off := baseReportSize
		for i := 0; i < extra/rtmrSize; i++ {
			var reg [48]byte
			copy(reg[:], raw[off:off+rtmrSize])
			r.RuntimeRegisters = append(r.RuntimeRegisters, reg)
			off += rtmrSize
		}
	}

	return r, nil
}

// MeasurementFor returns the hardware-derived Measurement for this report
// under predicateType: the SNP launch digest, followed by any runtime
// registers when predicateType is SnpTdxMultiplatformV1. Named distinctly
// from the Measurement field AMD's ABI reserves on this struct.
func (r *Report) MeasurementFor(predicateType PredicateType) Measurement {
	registers := []string{hex.EncodeToString(r.Measurement[:])}
	if predicateType == SnpTdxMultiplatformV1 {
		for _, reg := range r.RuntimeRegisters {
			registers = append(registers, hex.EncodeToString(reg[:]))
		}
	}
	return Measurement{Type: predicateType, Registers: registers}
}

// TLSPublicKeyFingerprint is hex(sha256(reportData[0:32])) — the first
// half of REPORT_DATA binds the enclave's TLS transport key.
func (r *Report) TLSPublicKeyFingerprint() string {
	sum := sha256.Sum256(r.ReportData[0:32])
	return hex.EncodeToString(sum[:])
}

// HPKEPublicKeyHex is hex(reportData[32:64]) — the second half of
// REPORT_DATA binds the HPKE public key the enclave will use for the
// encrypted transport.
func (r *Report) HPKEPublicKeyHex() string {
	return hex.EncodeToString(r.ReportData[32:64])
}

// ReportedTCBParts is a convenience accessor over TCBFromUint64 for the
// field used in every policy and VCEK-binding check.
func (r *Report) ReportedTCBParts() TCBParts {
	return TCBFromUint64(r.ReportedTCB)
}
