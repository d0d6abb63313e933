package resource

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
}

func (c *Config) compileRules() error {
	c.programs = nil
	if len(c.Rules) == 0 {
		return nil
	}

	env, err := newRuleEnv()
	if err != nil {
		return fmt.Errorf("environment creation error: %w", err)
	}

	for i, r := range c.Rules {
		if r.Expression == "" {
			return fmt.Errorf("rule %d: expression required", i)
		}

		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %d: type-check error: %w", i, issues.Err())
		}

		out := ast.OutputType()
		if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return fmt.Errorf("rule %d: expression must evaluate to bool, got %s", i, out)
		}

		prg, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %d: program construction error: %w", i, err)
		}
		c.programs = append(c.programs, prg)
	}

	return nil
}

// CheckRules evaluates the configured rules against the candidate record.
// A rule that does not hold is reported as a *RuleError.
func (c *Config) CheckRules(record map[string]any) error {
	for i, prg := range c.programs {
		out, _, err := prg.Eval(map[string]any{
			"record": record,
		})
		if err != nil {
			return &RuleError{Msg: fmt.Sprintf("%s: %v", c.Rules[i].message(), err)}
		}

		ok, isBool := out.Value().(bool)
		if !isBool || !ok {
			return &RuleError{Msg: c.Rules[i].message()}
		}
	}
	return nil
}

type RuleError struct {
	Msg string
}

func (e *RuleError) Error() string {
	return e.Msg
}
