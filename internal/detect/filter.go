package detect

import (
	"fmt"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter suppresses notifications for items matching a configured rule,
// e.g. `hasPrefix(title, "[live]")` or `title contains "#shorts"`.
// A filtered item still advances the stored state, otherwise it would be
// re-evaluated on every subsequent run.
type Filter struct {
	rule    string
	program *vm.Program
}

func NewFilter(rule string) (*Filter, error) {
	if rule == "" {
		return nil, fmt.Errorf("filter rule is required")
	}
	program, err := expr.Compile(rule, expr.Env(map[string]interface{}{}))
	if err != nil {
		return nil, fmt.Errorf("compile filter rule: %w", err)
	}
	return &Filter{rule: rule, program: program}, nil
}

// Match reports whether the rule matches the item, i.e. whether the
// notification should be suppressed.
func (f *Filter) Match(item core.LatestItem) (bool, error) {
	result, err := expr.Run(f.program, filterEnv(item))
	if err != nil {
		return false, fmt.Errorf("run filter rule: %w", err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter rule did not return bool")
	}
	return matched, nil
}

func filterEnv(item core.LatestItem) map[string]interface{} {
	return map[string]interface{}{
		"id":           item.ItemID,
		"title":        item.Title,
		"url":          item.URL,
		"published_at": item.PublishedAt,
	}
}
