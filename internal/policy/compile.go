package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

// CompileError reports a problem in a CUE ruleset, with source
// position when CUE can provide one.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads and compiles a CUE ruleset file.
//
// Expected shape:
//
//	ruleset: {
//		version: "2024-01"
//		default: "deny"
//	}
//	rule: {
//		allow_docs: {
//			priority: 10
//			match: {type: "doc"}
//			decision: "allow"
//		}
//	}
func LoadFile(path string) (*Ruleset, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, &CompileError{Field: "ruleset", Message: err.Error()}
	}
	return Compile(v)
}

// Compile parses a CUE value into a Ruleset. Uses the CUE SDK's Go
// API directly (not a CLI subprocess).
func Compile(v cue.Value) (*Ruleset, error) {
	if err := v.Err(); err != nil {
		return nil, &CompileError{Field: "ruleset", Message: err.Error(), Pos: v.Pos()}
	}

	version := "unversioned"
	defaultOutcome := ""

	meta := v.LookupPath(cue.ParsePath("ruleset"))
	if meta.Exists() {
		if versionVal := meta.LookupPath(cue.ParsePath("version")); versionVal.Exists() {
			s, err := versionVal.String()
			if err != nil {
				return nil, &CompileError{Field: "ruleset.version", Message: "must be a string", Pos: versionVal.Pos()}
			}
			version = s
		}
		if defVal := meta.LookupPath(cue.ParsePath("default")); defVal.Exists() {
			s, err := defVal.String()
			if err != nil {
				return nil, &CompileError{Field: "ruleset.default", Message: "must be a string", Pos: defVal.Pos()}
			}
			defaultOutcome = s
		}
	}

	var rules []Rule
	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, &CompileError{Field: "rule", Message: err.Error(), Pos: rulesVal.Pos()}
		}
		for iter.Next() {
			rule, err := compileRule(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			rules = append(rules, *rule)
		}
	}
	if len(rules) == 0 {
		return nil, &CompileError{Field: "rule", Message: "at least one rule is required", Pos: v.Pos()}
	}

	rs, err := NewRuleset(version, defaultOutcome, rules)
	if err != nil {
		return nil, &CompileError{Field: "ruleset", Message: err.Error(), Pos: v.Pos()}
	}
	return rs, nil
}

func compileRule(name string, v cue.Value) (*Rule, error) {
	rule := &Rule{Name: name}

	if prioVal := v.LookupPath(cue.ParsePath("priority")); prioVal.Exists() {
		p, err := prioVal.Int64()
		if err != nil {
			return nil, &CompileError{Field: name + ".priority", Message: "must be an integer", Pos: prioVal.Pos()}
		}
		rule.Priority = int(p)
	}

	decVal := v.LookupPath(cue.ParsePath("decision"))
	if !decVal.Exists() {
		return nil, &CompileError{Field: name + ".decision", Message: "decision is required", Pos: v.Pos()}
	}
	outcome, err := decVal.String()
	if err != nil {
		return nil, &CompileError{Field: name + ".decision", Message: "must be a string", Pos: decVal.Pos()}
	}
	rule.Outcome = outcome

	if reasonVal := v.LookupPath(cue.ParsePath("reason")); reasonVal.Exists() {
		s, err := reasonVal.String()
		if err != nil {
			return nil, &CompileError{Field: name + ".reason", Message: "must be a string", Pos: reasonVal.Pos()}
		}
		rule.Reason = s
	}

	if matchVal := v.LookupPath(cue.ParsePath("match")); matchVal.Exists() {
		m, err := compileMatch(name, matchVal)
		if err != nil {
			return nil, err
		}
		rule.Match = *m
	}

	if reqVal := v.LookupPath(cue.ParsePath("requirements")); reqVal.Exists() {
		iter, err := reqVal.List()
		if err != nil {
			return nil, &CompileError{Field: name + ".requirements", Message: "must be a list of strings", Pos: reqVal.Pos()}
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{Field: name + ".requirements", Message: "must be a list of strings", Pos: iter.Value().Pos()}
			}
			rule.Requirements = append(rule.Requirements, s)
		}
	}

	return rule, nil
}

func compileMatch(rule string, v cue.Value) (*Match, error) {
	m := &Match{}
	fields := []struct {
		path string
		dst  *string
	}{
		{"type", &m.Type},
		{"type_prefix", &m.TypePrefix},
		{"world", &m.World},
		{"world_prefix", &m.WorldPrefix},
		{"subject", &m.Subject},
		{"subject_prefix", &m.SubjectPrefix},
	}
	for _, f := range fields {
		val := v.LookupPath(cue.ParsePath(f.path))
		if !val.Exists() {
			continue
		}
		s, err := val.String()
		if err != nil {
			return nil, &CompileError{Field: rule + ".match." + f.path, Message: "must be a string", Pos: val.Pos()}
		}
		*f.dst = s
	}
	return m, nil
}
