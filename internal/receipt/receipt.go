// Package receipt defines the signed execution receipt: the portable
// evidence a pipeline run leaves behind, and the append-only chain
// those receipts live on.
//
// A receipt is evidence, not state. Its CID commits to everything the
// run decided; the signature binds that commitment to the stage secret
// that was live when the run sealed. Two executions of the same chip
// seal two distinct receipts: the issue timestamp and the receipt
// nonce are part of the signed body.
package receipt

import (
	"fmt"
	"time"

	"github.com/tracefold/chipline/internal/nrf"
)

// Decision values a receipt can carry.
const (
	DecisionAllow   = "allow"
	DecisionDeny    = "deny"
	DecisionRequire = "require"
	DecisionReject  = "reject" // structural rejection before authorization
)

// ReceiptType tags the receipt document.
const ReceiptType = "chip/receipt"

// StageResult is one stage's entry in the receipt trace.
type StageResult struct {
	Stage      string // stage name in execution order
	Status     string // "ok" or "rejected"
	Code       string // stable error code when rejected
	Detail     string // human-readable detail, optional
	DurationMS int64
}

const (
	StageOK       = "ok"
	StageRejected = "rejected"
)

// Receipt is the unsealed receipt body. Build one from a pipeline
// trace, then Seal it; a Receipt is never stored unsigned.
type Receipt struct {
	ChipCID    string // CID of the executed chip (knock CID on rejection)
	World      string
	Subject    string
	Decision   string
	Nonce      string // per-execution receipt nonce
	WorkNonce  string // nonce admitted at work authorization, if any
	IssuedAt   time.Time
	Stages     []StageResult
	FuelUsed   int64
	OutputCID  string   // transform output CID, empty unless Decision is allow
	Parents    []string // dependency CIDs the chip declared
	RuleTrace  []string
	Supersedes string // CID of the receipt this one corrects, optional
}

// body lowers the receipt into its canonical NRF object. Field names
// here are the wire format; changing one changes every receipt CID.
func (r *Receipt) body() (nrf.Object, error) {
	if r.ChipCID == "" || r.World == "" || r.Decision == "" || r.Nonce == "" {
		return nil, fmt.Errorf("receipt missing required fields")
	}
	if r.IssuedAt.IsZero() {
		return nil, fmt.Errorf("receipt missing issue time")
	}

	stages := make(nrf.Array, 0, len(r.Stages))
	for _, sr := range r.Stages {
		entry := nrf.Object{
			"stage":       nrf.String(sr.Stage),
			"status":      nrf.String(sr.Status),
			"duration_ms": nrf.Int(sr.DurationMS),
		}
		if sr.Code != "" {
			entry["code"] = nrf.String(sr.Code)
		}
		if sr.Detail != "" {
			entry["detail"] = nrf.String(sr.Detail)
		}
		stages = append(stages, entry)
	}

	body := nrf.Object{
		"@type":     nrf.String(ReceiptType),
		"chip_cid":  nrf.String(r.ChipCID),
		"world":     nrf.String(r.World),
		"decision":  nrf.String(r.Decision),
		"nonce":     nrf.String(r.Nonce),
		"issued_at": nrf.String(r.IssuedAt.UTC().Format(time.RFC3339)),
		"stages":    stages,
		"fuel_used": nrf.Int(r.FuelUsed),
	}
	if r.Subject != "" {
		body["subject"] = nrf.String(r.Subject)
	}
	if r.WorkNonce != "" {
		body["work_nonce"] = nrf.String(r.WorkNonce)
	}
	if r.OutputCID != "" {
		body["output_cid"] = nrf.String(r.OutputCID)
	}
	if len(r.Parents) > 0 {
		parents := make(nrf.Array, 0, len(r.Parents))
		for _, p := range r.Parents {
			parents = append(parents, nrf.String(p))
		}
		body["parents"] = parents
	}
	if len(r.RuleTrace) > 0 {
		rules := make(nrf.Array, 0, len(r.RuleTrace))
		for _, rule := range r.RuleTrace {
			rules = append(rules, nrf.String(rule))
		}
		body["rule_trace"] = rules
	}
	if r.Supersedes != "" {
		body["supersedes"] = nrf.String(r.Supersedes)
	}
	return body, nil
}

// CanonicalBody returns the canonical bytes of the unsealed receipt.
// This is the exact message that gets signed and CID-addressed.
func (r *Receipt) CanonicalBody() ([]byte, error) {
	body, err := r.body()
	if err != nil {
		return nil, err
	}
	return nrf.MarshalCanonical(body)
}

// CID canonicalizes the receipt and derives its content identifier.
func (r *Receipt) CID() (string, error) {
	b, err := r.CanonicalBody()
	if err != nil {
		return "", err
	}
	return nrf.ComputeCID(b), nil
}
