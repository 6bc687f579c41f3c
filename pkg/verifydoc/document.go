// Package verifydoc implements the verification orchestrator: it
// sequences the SEV-SNP attestation check (pkg/sevsnp), the Sigstore code
// provenance check (pkg/sigstoreverify), the cross-measurement compare,
// and the certificate-binding check, recording each step's outcome into a
// VerificationDocument audit record.
package verifydoc

import (
	"sync"
	"time"

	"github.com/tinfoilsh/verifier/pkg/sevsnp"
)

// StepName names one of the five steps the orchestrator runs, in order.
type StepName string

const (
	StepFetchDigest         StepName = "fetchDigest"
	StepVerifyCode          StepName = "verifyCode"
	StepVerifyEnclave       StepName = "verifyEnclave"
	StepCompareMeasurements StepName = "compareMeasurements"
	StepVerifyCertificate   StepName = "verifyCertificate"
)

// orderedSteps is the fixed verification sequence: fetchDigest is always
// resolved (the assembler already did it) before the orchestrator runs
// the remaining four in this order.
var orderedSteps = []StepName{
	StepFetchDigest,
	StepVerifyEnclave,
	StepVerifyCode,
	StepCompareMeasurements,
	StepVerifyCertificate,
}

// StepStatus is one of the three states a step can be in.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// StepResult is one step's recorded outcome.
type StepResult struct {
	Status   StepStatus
	Error    string
	Duration time.Duration
}

// Document is the verification audit record. It is constructed with
// every step pending, mutated in place as the
// orchestrator progresses, and must be treated as read-only by every
// caller once VerifyBundle returns it.
type Document struct {
	mu sync.RWMutex

	configRepo             string
	enclaveHost            string
	selectedRouterEndpoint string

	releaseDigest      string
	codeMeasurement    sevsnp.Measurement
	enclaveMeasurement sevsnp.Measurement
	tlsPublicKey       string
	hpkePublicKey      string
	codeFingerprint    string
	enclaveFingerprint string
	securityVerified   bool

	steps map[StepName]StepResult
}

// NewDocument starts a fresh document with every step pending.
func NewDocument(configRepo, enclaveHost, selectedRouterEndpoint string) *Document {
	steps := make(map[StepName]StepResult, len(orderedSteps))
	for _, s := range orderedSteps {
		steps[s] = StepResult{Status: StepPending}
	}
	return &Document{
		configRepo:             configRepo,
		enclaveHost:            enclaveHost,
		selectedRouterEndpoint: selectedRouterEndpoint,
		steps:                  steps,
	}
}

func (d *Document) markSuccess(step StepName, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[step] = StepResult{Status: StepSuccess, Duration: dur}
}

func (d *Document) markFailed(step StepName, err error, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[step] = StepResult{Status: StepFailed, Error: err.Error(), Duration: dur}
}

// Step returns the current result for name.
func (d *Document) Step(name StepName) StepResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.steps[name]
}

// Steps returns a snapshot of every step's result, keyed by name.
func (d *Document) Steps() map[StepName]StepResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[StepName]StepResult, len(d.steps))
	for k, v := range d.steps {
		out[k] = v
	}
	return out
}

// SecurityVerified reports whether every step succeeded.
func (d *Document) SecurityVerified() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.securityVerified
}

func (d *Document) ConfigRepo() string             { d.mu.RLock(); defer d.mu.RUnlock(); return d.configRepo }
func (d *Document) EnclaveHost() string            { d.mu.RLock(); defer d.mu.RUnlock(); return d.enclaveHost }
func (d *Document) ReleaseDigest() string          { d.mu.RLock(); defer d.mu.RUnlock(); return d.releaseDigest }
func (d *Document) TLSPublicKey() string           { d.mu.RLock(); defer d.mu.RUnlock(); return d.tlsPublicKey }
func (d *Document) HPKEPublicKey() string          { d.mu.RLock(); defer d.mu.RUnlock(); return d.hpkePublicKey }
func (d *Document) CodeFingerprint() string        { d.mu.RLock(); defer d.mu.RUnlock(); return d.codeFingerprint }
func (d *Document) EnclaveFingerprint() string     { d.mu.RLock(); defer d.mu.RUnlock(); return d.enclaveFingerprint }
func (d *Document) SelectedRouterEndpoint() string { d.mu.RLock(); defer d.mu.RUnlock(); return d.selectedRouterEndpoint }

func (d *Document) CodeMeasurement() sevsnp.Measurement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.codeMeasurement
}

func (d *Document) EnclaveMeasurement() sevsnp.Measurement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enclaveMeasurement
}
