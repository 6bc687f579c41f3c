package sevsnp

import (
	"bytes"
	"fmt"
)

// FirmwareVersion packs a major/minor firmware version as major<<8|minor,
// the same layout AMD uses for CurrentVersion/CommittedVersion comparisons.
type FirmwareVersion uint16

// PackFirmwareVersion builds a FirmwareVersion from its parts.
func PackFirmwareVersion(major, minor uint8) FirmwareVersion {
	return FirmwareVersion(uint16(major)<<8 | uint16(minor))
}

// FieldEquality pins expected byte-for-byte values for specific report
// fields. Any field left nil is unchecked.
type FieldEquality struct {
	ReportData  []byte
	HostData    []byte
	Measurement []byte
	ChipID      []byte
	ImageID     []byte
	FamilyID    []byte
	ReportID    []byte
	ReportIDMA  []byte
}

// ValidationOptions configures ValidatePolicy. A nil or zero-value field
// (aside from explicit booleans covered below) means "unchecked" — the
// corresponding rule is skipped rather than enforced against a zero value.
type ValidationOptions struct {
	RequiredGuestPolicy *SnpPolicy
	RequiredPlatform    *SnpPlatformInfo

	MinimumGuestSVN *uint32
	MinimumBuild    *uint8
	MinimumVersion  *FirmwareVersion

	MinimumTCB       *TCBParts
	MinimumLaunchTCB *TCBParts

	Equality *FieldEquality

	RequiredVMPL *uint32

	PermitProvisionalFirmware bool
	RequireAuthorKey          bool
	RequireIDBlock            bool
}

// DefaultValidationOptions returns the defaults every caller can adopt
// or selectively override: the pinned minimum build/version/TCB floor AMD
// has published as safe, a guest policy that permits SMT and forbids debug,
// migration agents, CXL and AES-256-XTS, and a platform policy that permits
// SMT and TSME.
func DefaultValidationOptions() ValidationOptions {
	minBuild := uint8(21)
	minVersion := PackFirmwareVersion(1, 55)
	minTCB := TCBParts{BlSpl: 0x7, TeeSpl: 0, SnpSpl: 0xe, UcodeSpl: 0x48}
	minLaunchTCB := minTCB

	guestPolicy := SnpPolicy{
		SMT:                  true,
		Debug:                false,
		MigrateMA:            false,
		SingleSocket:         false,
		CXLAllowed:           false,
		MemAES256XTS:         false,
		RaplDis:              false,
		CiphertextHidingDRAM: false,
		PageSwapDisabled:     false,
		ABIMajor:             0,
		ABIMinor:             0,
	}
	platformInfo := SnpPlatformInfo{
		SMTEnabled:                  true,
		TSMEEnabled:                 true,
		ECCEnabled:                  false,
		RaplDisabled:                false,
		CiphertextHidingDRAMEnabled: false,
		AliasCheckComplete:          false,
		TIOEnabled:                  false,
	}

	return ValidationOptions{
		RequiredGuestPolicy: &guestPolicy,
		RequiredPlatform:    &platformInfo,
		MinimumBuild:        &minBuild,
		MinimumVersion:      &minVersion,
		MinimumTCB:          &minTCB,
		MinimumLaunchTCB:    &minLaunchTCB,
	}
}

// ValidatePolicy enforces opts against a parsed report. It returns the first
// rule violated; unset opts fields are skipped.
func ValidatePolicy(r *Report, opts ValidationOptions) error {
	if opts.RequireAuthorKey || opts.RequireIDBlock || opts.PermitProvisionalFirmware {
		return fmt.Errorf("sevsnp: requireAuthorKey, requireIdBlock, and permitProvisionalFirmware=true are not yet implemented")
	}

	// Provisional firmware is never permitted: the running firmware state
	// must match what the platform has committed to.
	if r.CurrentBuild != r.CommittedBuild || r.CurrentMajor != r.CommittedMajor || r.CurrentMinor != r.CommittedMinor {
		return fmt.Errorf("sevsnp: current firmware %d.%d build %d does not match committed %d.%d build %d",
			r.CurrentMajor, r.CurrentMinor, r.CurrentBuild, r.CommittedMajor, r.CommittedMinor, r.CommittedBuild)
	}
	if r.CurrentTCB != r.CommittedTCB {
		return fmt.Errorf("sevsnp: current TCB does not match committed TCB")
	}

	if opts.RequiredGuestPolicy != nil {
		if err := validateGuestPolicy(r.GuestPolicy(), *opts.RequiredGuestPolicy); err != nil {
			return err
		}
	}

	if opts.RequiredPlatform != nil {
		if err := validatePlatformInfo(r.PlatformInfo(), *opts.RequiredPlatform); err != nil {
			return err
		}
	}

	if opts.MinimumGuestSVN != nil && r.GuestSVN < *opts.MinimumGuestSVN {
		return fmt.Errorf("sevsnp: guest SVN %d below minimum %d", r.GuestSVN, *opts.MinimumGuestSVN)
	}

	if opts.MinimumBuild != nil {
		if r.CurrentBuild < *opts.MinimumBuild {
			return fmt.Errorf("sevsnp: current build %d below minimum %d", r.CurrentBuild, *opts.MinimumBuild)
		}
		if r.CommittedBuild < *opts.MinimumBuild {
			return fmt.Errorf("sevsnp: committed build %d below minimum %d", r.CommittedBuild, *opts.MinimumBuild)
		}
	}

	if opts.MinimumVersion != nil {
		current := PackFirmwareVersion(r.CurrentMajor, r.CurrentMinor)
		committed := PackFirmwareVersion(r.CommittedMajor, r.CommittedMinor)
		if current < *opts.MinimumVersion {
			return fmt.Errorf("sevsnp: current firmware version %d below minimum %d", current, *opts.MinimumVersion)
		}
		if committed < *opts.MinimumVersion {
			return fmt.Errorf("sevsnp: committed firmware version %d below minimum %d", committed, *opts.MinimumVersion)
		}
	}

	if opts.MinimumTCB != nil {
		min := *opts.MinimumTCB
		if !TCBFromUint64(r.CurrentTCB).MeetsMinimum(min) {
			return fmt.Errorf("sevsnp: current TCB below minimum %+v", min)
		}
		if !TCBFromUint64(r.CommittedTCB).MeetsMinimum(min) {
			return fmt.Errorf("sevsnp: committed TCB below minimum %+v", min)
		}
		if !TCBFromUint64(r.ReportedTCB).MeetsMinimum(min) {
			return fmt.Errorf("sevsnp: reported TCB below minimum %+v", min)
		}
	}
	if opts.MinimumLaunchTCB != nil && !TCBFromUint64(r.LaunchTCB).MeetsMinimum(*opts.MinimumLaunchTCB) {
		return fmt.Errorf("sevsnp: launch TCB below minimum %+v", *opts.MinimumLaunchTCB)
	}

	if opts.Equality != nil {
		if err := validateEquality(r, *opts.Equality); err != nil {
			return err
		}
	}

	if opts.RequiredVMPL != nil {
		if r.VMPL > 3 {
			return fmt.Errorf("sevsnp: VMPL %d out of range 0..3", r.VMPL)
		}
		if r.VMPL != *opts.RequiredVMPL {
			return fmt.Errorf("sevsnp: VMPL %d does not match required %d", r.VMPL, *opts.RequiredVMPL)
		}
	}

	return nil
}

// validateGuestPolicy applies two-sided boolean rules:
// "unauthorized" booleans reject when the report enables a capability the
// requirement disallows; "required restriction" booleans reject when the
// report lacks a mandatory feature.
func validateGuestPolicy(have, want SnpPolicy) error {
	if want.ABIMajor > have.ABIMajor || (want.ABIMajor == have.ABIMajor && want.ABIMinor > have.ABIMinor) {
		return fmt.Errorf("sevsnp: report ABI %d.%d below required %d.%d", have.ABIMajor, have.ABIMinor, want.ABIMajor, want.ABIMinor)
	}
	if have.Debug && !want.Debug {
		return fmt.Errorf("sevsnp: debug mode enabled but not authorized")
	}
	if have.MigrateMA && !want.MigrateMA {
		return fmt.Errorf("sevsnp: migration agent enabled but not authorized")
	}
	if have.SMT && !want.SMT {
		return fmt.Errorf("sevsnp: SMT enabled but not authorized")
	}
	if have.CXLAllowed && !want.CXLAllowed {
		return fmt.Errorf("sevsnp: CXL allowed but not authorized")
	}
	if have.MemAES256XTS && !want.MemAES256XTS {
		return fmt.Errorf("sevsnp: memory AES-256-XTS enabled but not authorized")
	}
	if want.SingleSocket && !have.SingleSocket {
		return fmt.Errorf("sevsnp: single-socket restriction required but not set")
	}
	if want.MemAES256XTS && !have.MemAES256XTS {
		return fmt.Errorf("sevsnp: memory AES-256-XTS required but not set")
	}
	if want.RaplDis && !have.RaplDis {
		return fmt.Errorf("sevsnp: RAPL-disable required but not set")
	}
	if want.CiphertextHidingDRAM && !have.CiphertextHidingDRAM {
		return fmt.Errorf("sevsnp: ciphertext-hiding DRAM required but not set")
	}
	if want.PageSwapDisabled && !have.PageSwapDisabled {
		return fmt.Errorf("sevsnp: page-swap-disabled required but not set")
	}
	return nil
}

// validatePlatformInfo applies the same two-sided logic as
// validateGuestPolicy. Platform capabilities (SMT, TSME, ECC,
// ciphertext-hiding DRAM, TIO) are authorization-gated: the report may
// only enable what the requirement allows. RAPL-disable and the alias
// check are assurances: when the requirement demands one, a platform
// lacking it is rejected.
func validatePlatformInfo(have, want SnpPlatformInfo) error {
	if have.SMTEnabled && !want.SMTEnabled {
		return fmt.Errorf("sevsnp: platform SMT enabled but not authorized")
	}
	if have.TSMEEnabled && !want.TSMEEnabled {
		return fmt.Errorf("sevsnp: platform TSME enabled but not authorized")
	}
	if have.ECCEnabled && !want.ECCEnabled {
		return fmt.Errorf("sevsnp: ECC enabled but not authorized")
	}
	if have.CiphertextHidingDRAMEnabled && !want.CiphertextHidingDRAMEnabled {
		return fmt.Errorf("sevsnp: ciphertext-hiding DRAM enabled but not authorized")
	}
	if have.TIOEnabled && !want.TIOEnabled {
		return fmt.Errorf("sevsnp: TIO enabled but not authorized")
	}
	if want.RaplDisabled && !have.RaplDisabled {
		return fmt.Errorf("sevsnp: RAPL-disabled platform required but not set")
	}
	if want.AliasCheckComplete && !have.AliasCheckComplete {
		return fmt.Errorf("sevsnp: alias-check-complete platform required but not set")
	}
	return nil
}

func validateEquality(r *Report, eq FieldEquality) error {
	checks := []struct {
		name    string
		want    []byte
		haveRef []byte
	}{
		{"reportData", eq.ReportData, r.ReportData[:]},
		{"hostData", eq.HostData, r.HostData[:]},
		{"measurement", eq.Measurement, r.Measurement[:]},
		{"chipId", eq.ChipID, r.ChipID[:]},
		{"imageId", eq.ImageID, r.ImageID[:]},
		{"familyId", eq.FamilyID, r.FamilyID[:]},
		{"reportId", eq.ReportID, r.ReportID[:]},
		{"reportIdMa", eq.ReportIDMA, r.ReportIDMA[:]},
	}
	for _, c := range checks {
		if c.want == nil {
			continue
		}
		if !bytes.Equal(c.want, c.haveRef) {
			return fmt.Errorf("sevsnp: field %s does not match expected value", c.name)
		}
	}
	return nil
}
