package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"switchboard/internal/domain"
)

// CallBudget allows a number of calls per period. The budget refills
// continuously, so a full burst is available again one period after it
// was spent.
type CallBudget struct {
	requests int
	period   time.Duration
	lim      *rate.Limiter
	now      func() time.Time
}

// NewCallBudget allows requests calls per period. A non-positive request
// count or period allows nothing.
func NewCallBudget(requests int, period time.Duration) *CallBudget {
	b := &CallBudget{requests: requests, period: period, now: time.Now}
	if requests <= 0 || period <= 0 {
		b.lim = rate.NewLimiter(0, 0)
	} else {
		b.lim = rate.NewLimiter(rate.Every(period/time.Duration(requests)), requests)
	}
	return b
}

// Allow spends one call if the budget has one.
func (b *CallBudget) Allow() bool {
	return b.lim.AllowN(b.now(), 1)
}

func (b *CallBudget) String() string {
	return fmt.Sprintf("%d calls per %s", b.requests, b.period)
}

type budgetedTool struct {
	domain.Tool
	budget *CallBudget
}

// WithCallBudget wraps t so calls beyond the budget fail as execution
// errors wrapping domain.ErrRateLimit, without reaching t.
func WithCallBudget(t domain.Tool, budget *CallBudget) domain.Tool {
	return &budgetedTool{Tool: t, budget: budget}
}

func (t *budgetedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if !t.budget.Allow() {
		return nil, domain.NewExecutionError(t.Name(), fmt.Errorf("%w: %s", domain.ErrRateLimit, t.budget))
	}
	return t.Tool.Execute(ctx, params)
}
