// Package pipeline runs a submission through the five-stage trust
// pipeline: structural admission, work authorization, policy check,
// metered transform, and sealing. Every run that reaches sealing —
// allowed, denied, or rejected — leaves a signed receipt on the
// chain; the only runs that return an error instead are the ones the
// durable substrate refused to witness.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracefold/chipline/internal/chip"
	"github.com/tracefold/chipline/internal/ledger"
	"github.com/tracefold/chipline/internal/nrf"
	"github.com/tracefold/chipline/internal/policy"
	"github.com/tracefold/chipline/internal/receipt"
	"github.com/tracefold/chipline/internal/secrets"
)

// Result is the outcome of one pipeline run. Sealed is always set:
// a run either seals a receipt or returns an error, never neither.
type Result struct {
	ChipCID   string // knock CID when the submission never parsed
	Subject   string
	Decision  string
	OutputCID string
	FuelUsed  int64
	Sealed    *receipt.Sealed
	Position  int64
	Trace     []TraceEntry
}

// Accepted reports whether the run ended in an allow decision.
func (r *Result) Accepted() bool {
	return r.Decision == receipt.DecisionAllow
}

// Engine wires the pipeline stages to their capabilities. Construct
// once, share freely; Process is safe for concurrent use.
type Engine struct {
	ledger      *ledger.Ledger
	secrets     *secrets.Manager
	ruleset     *policy.Ruleset
	chain       *receipt.Chain
	transformer Transformer
	logger      *slog.Logger
	now         func() time.Time
	newNonce    func() (string, error)
	fuelBudget  int64
	maxBytes    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransformer replaces the default normalize transform.
func WithTransformer(t Transformer) Option {
	return func(e *Engine) { e.transformer = t }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNow overrides the wall-clock source.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNonceFunc overrides generation of auto-assigned work nonces and
// receipt nonces. Tests pin these for reproducible receipts.
func WithNonceFunc(f func() (string, error)) Option {
	return func(e *Engine) { e.newNonce = f }
}

// WithFuelBudget sets the transform budget.
func WithFuelBudget(budget int64) Option {
	return func(e *Engine) { e.fuelBudget = budget }
}

// WithMaxBytes bounds raw submission size.
func WithMaxBytes(n int) Option {
	return func(e *Engine) { e.maxBytes = n }
}

// New creates an engine over the given capabilities.
func New(lg *ledger.Ledger, sm *secrets.Manager, rs *policy.Ruleset, chain *receipt.Chain, opts ...Option) *Engine {
	e := &Engine{
		ledger:      lg,
		secrets:     sm,
		ruleset:     rs,
		chain:       chain,
		transformer: NormalizeTransformer{},
		logger:      slog.Default(),
		now:         time.Now,
		fuelBudget:  DefaultFuelBudget,
		maxBytes:    chip.MaxEnvelopeBytes,
		newNonce: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// unknownWorld tags receipts for submissions that never parsed far
// enough to declare a world.
const unknownWorld = "unknown"

// Process runs one raw submission through every stage it can reach.
//
// Structural rejections, replays, policy denials, and transform
// failures all seal receipts and return a nil error. A non-nil error
// means no receipt exists: the stage secret is unloaded, or the
// durable store refused both the admission and the evidence.
func (e *Engine) Process(ctx context.Context, raw []byte, hint *chip.ActorHint) (*Result, error) {
	trace := &Trace{}
	start := e.now()

	// KNOCK: bound, decode, validate. A submission that fails here is
	// identified by the CID of its raw bytes; malformed input has no
	// canonical form to address.
	if len(raw) > e.maxBytes {
		trace.rejected(StageKnock, CodePayloadTooLarge,
			fmt.Sprintf("%d bytes exceeds limit %d", len(raw), e.maxBytes), e.since(start))
		return e.sealRejection(ctx, trace, nrf.KnockCID(raw), unknownWorld, "", nil)
	}

	val, err := nrf.Decode(raw)
	if err != nil {
		var ce *nrf.CanonError
		code := nrf.CodeMalformedJSON
		detail := err.Error()
		if errors.As(err, &ce) {
			code = ce.Code
		}
		trace.rejected(StageKnock, code, detail, e.since(start))
		return e.sealRejection(ctx, trace, nrf.KnockCID(raw), unknownWorld, "", nil)
	}

	env, err := chip.Parse(val)
	if err != nil {
		var ve *chip.ValidationError
		code := chip.CodeInvalidField
		if errors.As(err, &ve) {
			code = ve.Code
		}
		trace.rejected(StageKnock, code, err.Error(), e.since(start))
		return e.sealRejection(ctx, trace, nrf.KnockCID(raw), unknownWorld, "", nil)
	}

	chipCID, err := env.CID()
	if err != nil {
		trace.rejected(StageKnock, nrf.CodeUnsupportedType, err.Error(), e.since(start))
		return e.sealRejection(ctx, trace, nrf.KnockCID(raw), env.World, "", nil)
	}
	trace.ok(StageKnock, e.since(start))

	subject := chip.ResolveSubject(env.Body, hint)
	scope := chip.Scope(env.World, subject)

	// WA: atomic replay check, then mint the work authorization.
	waStart := e.now()
	nonce := env.Nonce
	if nonce == "" {
		if nonce, err = e.newNonce(); err != nil {
			return nil, &StageError{Stage: StageWA, Code: CodeStorageUnavailable, Err: fmt.Errorf("generate nonce: %w", err)}
		}
	}

	verdict, err := e.ledger.CheckAndInsert(ctx, scope, nonce)
	if err != nil {
		// Storage down in strict mode: the chain could not witness a
		// receipt either, so this is the one rejection with no evidence.
		return nil, &StageError{Stage: StageWA, Code: CodeStorageUnavailable, Err: err}
	}
	if verdict == ledger.VerdictReplay {
		trace.rejected(StageWA, CodeReplay,
			fmt.Sprintf("nonce already admitted in scope %s", scope), e.since(waStart))
		e.logger.Info("replay rejected", "chip_cid", chipCID, "scope", scope)
		return e.sealRejection(ctx, trace, chipCID, env.World, subject, nil)
	}

	current := e.secrets.Current()
	if current == nil {
		return nil, &StageError{Stage: StageWA, Code: CodeSignFailed, Err: fmt.Errorf("stage secret not loaded")}
	}
	token := MintToken(current, scope, chipCID, nonce)
	trace.ok(StageWA, e.since(waStart))

	// CHECK: deterministic policy evaluation. The stage succeeds even
	// when the decision is deny; the decision is the receipt's payload,
	// not a stage failure.
	checkStart := e.now()
	decision := e.ruleset.Decide(env, policy.Authorization{Subject: subject, Scope: scope})
	trace.ok(StageCheck, e.since(checkStart))

	// TR: metered transform, allowed chips only. Denied and gated
	// chips skip straight to sealing with their decision.
	var (
		outputCID string
		fuelUsed  int64
	)
	if decision.Outcome == policy.OutcomeAllow {
		trStart := e.now()
		outBytes, used, err := runMetered(e.transformer, env, e.fuelBudget)
		fuelUsed = used
		if err != nil {
			code := CodeTransformFailed
			var fe *FuelExhaustedError
			var nd *nondeterminismError
			switch {
			case errors.As(err, &fe):
				code = CodeFuelExhausted
			case errors.As(err, &nd):
				code = CodeNondeterminism
			}
			trace.rejected(StageTR, code, err.Error(), e.since(trStart))
			return e.sealRejectionWithFuel(ctx, trace, chipCID, env.World, subject, decision.Trace, fuelUsed)
		}
		outputCID = nrf.ComputeCID(outBytes)
		trace.ok(StageTR, e.since(trStart))
	}

	// WF: verify the authorization survived, then seal and append.
	wfStart := e.now()
	if !token.Valid(e.secrets) {
		return nil, &StageError{Stage: StageWF, Code: CodeTokenInvalid,
			Err: fmt.Errorf("work authorization no longer verifies; secret rotated twice mid-run")}
	}
	trace.ok(StageWF, e.since(wfStart))

	return e.seal(ctx, trace, &receipt.Receipt{
		ChipCID:   chipCID,
		World:     env.World,
		Subject:   subject,
		Decision:  decision.Outcome,
		WorkNonce: nonce,
		Stages:    trace.stageResults(),
		FuelUsed:  fuelUsed,
		OutputCID: outputCID,
		Parents:   env.Parents,
		RuleTrace: decision.Trace,
	})
}

func (e *Engine) since(start time.Time) time.Duration {
	return e.now().Sub(start)
}

// sealRejection seals a reject-decision receipt for a run that could
// not proceed. The trace already carries the rejected stage.
func (e *Engine) sealRejection(ctx context.Context, trace *Trace, cid, world, subject string, ruleTrace []string) (*Result, error) {
	return e.sealRejectionWithFuel(ctx, trace, cid, world, subject, ruleTrace, 0)
}

func (e *Engine) sealRejectionWithFuel(ctx context.Context, trace *Trace, cid, world, subject string, ruleTrace []string, fuelUsed int64) (*Result, error) {
	return e.seal(ctx, trace, &receipt.Receipt{
		ChipCID:   cid,
		World:     world,
		Subject:   subject,
		Decision:  receipt.DecisionReject,
		Stages:    trace.stageResults(),
		FuelUsed:  fuelUsed,
		RuleTrace: ruleTrace,
	})
}

// seal stamps, signs, and appends the receipt.
func (e *Engine) seal(ctx context.Context, trace *Trace, r *receipt.Receipt) (*Result, error) {
	nonce, err := e.newNonce()
	if err != nil {
		return nil, &StageError{Stage: StageWF, Code: CodeSignFailed, Err: fmt.Errorf("receipt nonce: %w", err)}
	}
	r.Nonce = nonce
	r.IssuedAt = e.now().UTC()

	current := e.secrets.Current()
	if current == nil {
		return nil, &StageError{Stage: StageWF, Code: CodeSignFailed, Err: fmt.Errorf("stage secret not loaded")}
	}
	sealed, err := receipt.Seal(r, current)
	if err != nil {
		return nil, &StageError{Stage: StageWF, Code: CodeSignFailed, Err: err}
	}

	pos, err := e.chain.Append(ctx, sealed)
	if err != nil {
		return nil, &StageError{Stage: StageWF, Code: CodeChainAppendFailed, Err: err}
	}

	e.logger.Info("receipt sealed",
		"chip_cid", r.ChipCID,
		"receipt_cid", sealed.CID,
		"decision", r.Decision,
		"position", pos)

	return &Result{
		ChipCID:   r.ChipCID,
		Subject:   r.Subject,
		Decision:  r.Decision,
		OutputCID: r.OutputCID,
		FuelUsed:  r.FuelUsed,
		Sealed:    sealed,
		Position:  pos,
		Trace:     trace.Entries(),
	}, nil
}
