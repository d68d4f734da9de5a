package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// Rule actions.
const (
	ActionReplace = "replace"
	ActionDrop    = "drop"
)

// RuleConfig is one configured rule. Rules are applied in order; every
// matching rule acts on the payload as left by the previous ones.
type RuleConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	When    string `mapstructure:"when" yaml:"when"`
	Action  string `mapstructure:"action" yaml:"action"`
	Find    string `mapstructure:"find" yaml:"find,omitempty"`
	Replace string `mapstructure:"replace" yaml:"replace,omitempty"`
}

// RulesConfig configures the rules interceptor.
type RulesConfig struct {
	Rules []RuleConfig `mapstructure:"rules" yaml:"rules"`
}

type rule struct {
	name    string
	when    Condition
	action  string
	find    []byte
	replace []byte
}

// Rules rewrites payloads of messages matching CEL conditions.
type Rules struct {
	rules  []rule
	logger *slog.Logger
}

// NewRules compiles cfg. Any invalid rule fails the whole set.
func NewRules(cfg RulesConfig, compiler ConditionCompiler, logger *slog.Logger) (*Rules, error) {
	if compiler == nil {
		return nil, errors.New("rules: no condition compiler")
	}
	r := &Rules{logger: logger}
	for i, rc := range cfg.Rules {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}
		when := rc.When
		if when == "" {
			when = "true"
		}
		cond, err := compiler.Compile(when)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		compiled := rule{name: name, when: cond, action: rc.Action}
		switch rc.Action {
		case ActionReplace:
			if rc.Find == "" {
				return nil, fmt.Errorf("rule %s: replace requires a non-empty find", name)
			}
			compiled.find = []byte(rc.Find)
			compiled.replace = []byte(rc.Replace)
		case ActionDrop:
		default:
			return nil, fmt.Errorf("rule %s: unknown action %q", name, rc.Action)
		}
		r.rules = append(r.rules, compiled)
	}
	return r, nil
}

func (r *Rules) Name() string { return "rules" }

func (r *Rules) Intercept(ctx context.Context, msg *intercept.Message) error {
	if !msg.Kind.ExpectsResponse() {
		return nil
	}
	var errs []error
	for _, rl := range r.rules {
		ok, err := rl.when.Match(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rl.name, err))
			continue
		}
		if !ok {
			continue
		}
		switch rl.action {
		case ActionReplace:
			msg.Data = bytes.ReplaceAll(msg.Data, rl.find, rl.replace)
		case ActionDrop:
			msg.Data = []byte{}
		}
		r.logger.DebugContext(ctx, "rule applied",
			"rule", rl.name,
			"action", rl.action,
			"message_id", msg.ID,
		)
	}
	return errors.Join(errs...)
}

func (r *Rules) Close() error { return nil }
