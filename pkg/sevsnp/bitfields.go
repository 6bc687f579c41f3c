package sevsnp

// Bit layouts below follow the AMD SEV-SNP ABI (guest policy, platform
// info, signer info) and are unpacked lazily from the raw u64/u32 fields
// on Report.
const (
	policyABIMinorMask  = 0x00000000000000FF
	policyABIMajorMask  = 0x000000000000FF00
	policyABIMajorShift = 8
	policySMTBit        = 16
	policyMigrateMABit  = 18
	policyDebugBit      = 19
	policySingleSockBit = 20
	policyCXLAllowBit   = 21
	policyMemAESBit     = 22
	policyRaplDisBit    = 23
	policyCiphertextBit = 24
	policyPageSwapBit   = 25

	platformSMTEnabledBit    = 0
	platformTSMEEnabledBit   = 1
	platformECCEnabledBit    = 2
	platformRaplDisabledBit  = 3
	platformCiphertextBit    = 4
	platformAliasCheckBit    = 5
	platformTIOEnabledBit    = 6
	signerMaskChipKeyBit     = 0
	signerAuthorKeyEnBit     = 1
	signerSigningKeyShift    = 2
	signerSigningKeyMask     = 0x7
	signingKeyVcek           = 0
	signingKeyVlek           = 1
	signingKeyNone           = 7
)

// SnpPolicy is the unpacked form of Report.Policy.
type SnpPolicy struct {
	ABIMajor             uint8
	ABIMinor             uint8
	SMT                  bool
	MigrateMA            bool
	Debug                bool
	SingleSocket         bool
	CXLAllowed           bool
	MemAES256XTS         bool
	RaplDis              bool
	CiphertextHidingDRAM bool
	PageSwapDisabled     bool
}

// GuestPolicy unpacks Report.Policy into a SnpPolicy record.
func (r *Report) GuestPolicy() SnpPolicy {
	p := r.Policy
	return SnpPolicy{
		ABIMinor:             uint8(p & policyABIMinorMask),
		ABIMajor:             uint8((p & policyABIMajorMask) >> policyABIMajorShift),
		SMT:                  bitSet(p, policySMTBit),
		MigrateMA:            bitSet(p, policyMigrateMABit),
		Debug:                bitSet(p, policyDebugBit),
		SingleSocket:         bitSet(p, policySingleSockBit),
		CXLAllowed:           bitSet(p, policyCXLAllowBit),
		MemAES256XTS:         bitSet(p, policyMemAESBit),
		RaplDis:              bitSet(p, policyRaplDisBit),
		CiphertextHidingDRAM: bitSet(p, policyCiphertextBit),
		PageSwapDisabled:     bitSet(p, policyPageSwapBit),
	}
}

// SnpPlatformInfo is the unpacked form of Report.PlatformInfoRaw.
type SnpPlatformInfo struct {
	SMTEnabled                bool
	TSMEEnabled               bool
	ECCEnabled                bool
	RaplDisabled              bool
	CiphertextHidingDRAMEnabled bool
	AliasCheckComplete        bool
	TIOEnabled                bool
}

// PlatformInfo unpacks Report.PlatformInfoRaw into a SnpPlatformInfo
// record.
func (r *Report) PlatformInfo() SnpPlatformInfo {
	p := r.PlatformInfoRaw
	return SnpPlatformInfo{
		SMTEnabled:                  bitSet(p, platformSMTEnabledBit),
		TSMEEnabled:                 bitSet(p, platformTSMEEnabledBit),
		ECCEnabled:                  bitSet(p, platformECCEnabledBit),
		RaplDisabled:                bitSet(p, platformRaplDisabledBit),
		CiphertextHidingDRAMEnabled: bitSet(p, platformCiphertextBit),
		AliasCheckComplete:          bitSet(p, platformAliasCheckBit),
		TIOEnabled:                  bitSet(p, platformTIOEnabledBit),
	}
}

// SigningKey identifies which key type signed the report.
type SigningKey int

const (
	VcekReportSigner SigningKey = iota
	VlekReportSigner
	NoneReportSigner
)

// SignerInfo is the unpacked form of Report.SignerInfoRaw.
type SignerInfo struct {
	SigningKey   SigningKey
	MaskChipKey  bool
	AuthorKeyEn  bool
}

// SignerInfo unpacks Report.SignerInfoRaw, failing when the signing-key
// bits resolve to a value AMD hasn't defined.
func (r *Report) SignerInfo() (SignerInfo, error) {
	raw := uint64(r.SignerInfoRaw)
	key := (r.SignerInfoRaw >> signerSigningKeyShift) & signerSigningKeyMask
	var sk SigningKey
	switch key {
	case signingKeyVcek:
		sk = VcekReportSigner
	case signingKeyVlek:
		sk = VlekReportSigner
	case signingKeyNone:
		sk = NoneReportSigner
	default:
		return SignerInfo{}, undefinedEnumError("signer_info.signing_key", key)
	}
	return SignerInfo{
		SigningKey:  sk,
		MaskChipKey: bitSet(raw, signerMaskChipKeyBit),
		AuthorKeyEn: bitSet(raw, signerAuthorKeyEnBit),
	}, nil
}

func bitSet(v uint64, bit int) bool {
	return v&(1<<uint(bit)) != 0
}

func undefinedEnumError(field string, value uint32) error {
	return &enumError{field: field, value: value}
}

type enumError struct {
	field string
	value uint32
}

func (e *enumError) Error() string {
	return "sevsnp: " + e.field + " resolved to undefined value " + itoa(e.value)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// TCBParts is the unpacked form of any 64-bit TCB value (CurrentTCB,
// ReportedTCB, CommittedTCB and LaunchTCB all share this packing).
type TCBParts struct {
	BlSpl    uint8
	TeeSpl   uint8
	SnpSpl   uint8
	UcodeSpl uint8
}

// TCBFromUint64 unpacks a TCB value: blSpl at byte 0, teeSpl at byte 1,
// snpSpl at byte 6, ucodeSpl at byte 7.
func TCBFromUint64(u uint64) TCBParts {
	return TCBParts{
		BlSpl:    uint8(u),
		TeeSpl:   uint8(u >> 8),
		SnpSpl:   uint8(u >> 48),
		UcodeSpl: uint8(u >> 56),
	}
}

// ToUint64 packs t back into the layout TCBFromUint64 expects, i.e.
// TCBFromUint64(t.ToUint64()) == t for every t.
func (t TCBParts) ToUint64() uint64 {
	return uint64(t.BlSpl) |
		uint64(t.TeeSpl)<<8 |
		uint64(t.SnpSpl)<<48 |
		uint64(t.UcodeSpl)<<56
}

// MeetsMinimum reports whether every component of t is >= the
// corresponding component of min.
func (t TCBParts) MeetsMinimum(min TCBParts) bool {
	return t.BlSpl >= min.BlSpl &&
		t.TeeSpl >= min.TeeSpl &&
		t.SnpSpl >= min.SnpSpl &&
		t.UcodeSpl >= min.UcodeSpl
}
