// Package policy evaluates the admission ruleset against a validated
// chip and its work authorization. Rulesets are authored in CUE,
// compiled once at load, and evaluated deterministically: the same
// ruleset, chip, and authorization always produce the same decision
// and the same rule trace.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tracefold/chipline/internal/chip"
)

// Decision outcomes.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomeRequire = "require"
)

// Authorization is what the work-authorization stage established about
// the submission: who is acting, and in which admission scope.
type Authorization struct {
	Subject string // resolved subject DID
	Scope   string // world + "|" + subject
}

// Match is a rule's predicate over a chip and its authorization. Empty
// fields match anything; set fields must all hold.
type Match struct {
	Type          string // exact @type
	TypePrefix    string // @type prefix
	World         string // exact @world
	WorldPrefix   string // @world prefix
	Subject       string // exact subject DID
	SubjectPrefix string // subject DID prefix
}

// Matches reports whether the predicate holds.
func (m *Match) Matches(env *chip.Envelope, auth Authorization) bool {
	if m.Type != "" && env.Type != m.Type {
		return false
	}
	if m.TypePrefix != "" && !strings.HasPrefix(env.Type, m.TypePrefix) {
		return false
	}
	if m.World != "" && env.World != m.World {
		return false
	}
	if m.WorldPrefix != "" && !strings.HasPrefix(env.World, m.WorldPrefix) {
		return false
	}
	if m.Subject != "" && auth.Subject != m.Subject {
		return false
	}
	if m.SubjectPrefix != "" && !strings.HasPrefix(auth.Subject, m.SubjectPrefix) {
		return false
	}
	return true
}

// Rule is one compiled policy rule. First matching rule wins;
// evaluation order is priority ascending, then name, so a ruleset has
// exactly one meaning regardless of authoring order.
type Rule struct {
	Name         string
	Priority     int
	Match        Match
	Outcome      string
	Reason       string
	Requirements []string // set when Outcome is require
}

// Ruleset is a compiled, immutable policy version.
type Ruleset struct {
	Version string
	Default string // outcome when no rule matches
	rules   []Rule // in evaluation order
}

// NewRuleset builds a ruleset from compiled rules, fixing evaluation
// order. Default must be a valid outcome; deny is the fail-closed
// choice when authors leave it out.
func NewRuleset(version, defaultOutcome string, rules []Rule) (*Ruleset, error) {
	if defaultOutcome == "" {
		defaultOutcome = OutcomeDeny
	}
	if err := checkOutcome(defaultOutcome); err != nil {
		return nil, fmt.Errorf("ruleset default: %w", err)
	}
	for _, r := range rules {
		if err := checkOutcome(r.Outcome); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if r.Outcome == OutcomeRequire && len(r.Requirements) == 0 {
			return nil, fmt.Errorf("rule %q: require outcome needs at least one requirement", r.Name)
		}
	}

	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})

	return &Ruleset{Version: version, Default: defaultOutcome, rules: ordered}, nil
}

func checkOutcome(outcome string) error {
	switch outcome {
	case OutcomeAllow, OutcomeDeny, OutcomeRequire:
		return nil
	default:
		return fmt.Errorf("invalid outcome %q", outcome)
	}
}

// Rules returns the rules in evaluation order.
func (rs *Ruleset) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Decision is the evaluated outcome for one chip.
type Decision struct {
	Outcome      string
	Rule         string // matched rule name, empty for the default
	Reason       string
	Requirements []string
	Trace        []string // every rule visited, in order, with its result
}

// Decide evaluates the ruleset against the envelope and its
// authorization. Pure: no clock, no randomness, no I/O.
func (rs *Ruleset) Decide(env *chip.Envelope, auth Authorization) Decision {
	trace := make([]string, 0, len(rs.rules)+1)
	for _, r := range rs.rules {
		if !r.Match.Matches(env, auth) {
			trace = append(trace, r.Name+"=miss")
			continue
		}
		trace = append(trace, r.Name+"=match")
		return Decision{
			Outcome:      r.Outcome,
			Rule:         r.Name,
			Reason:       r.Reason,
			Requirements: r.Requirements,
			Trace:        trace,
		}
	}
	trace = append(trace, "default="+rs.Default)
	return Decision{Outcome: rs.Default, Trace: trace}
}
