package runner

import (
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

var _ types.RunListener = (*Tally)(nil)

// Tally counts callbacks to build the summary sent with RunFinished.
// A test counts as run once it finishes, failed or not; ignored tests are
// counted separately.
type Tally struct {
	now     func() time.Time
	started time.Time
	result  types.Result
}

func NewTally() *Tally {
	return &Tally{now: time.Now}
}

func (t *Tally) RunStarted(types.Description) {
	t.started = t.now()
	t.result = types.Result{}
}

func (t *Tally) TestStarted(types.Description) {}

func (t *Tally) TestIgnored(types.Description) {
	t.result.IgnoreCount++
}

func (t *Tally) TestFailure(types.Failure) {
	t.result.FailureCount++
}

func (t *Tally) TestFinished(types.Description) {
	t.result.RunCount++
}

func (t *Tally) RunFinished(types.Result) {}

// Result returns the counts so far and the time since RunStarted
func (t *Tally) Result() types.Result {
	r := t.result
	if !t.started.IsZero() {
		r.RunTime = t.now().Sub(t.started)
	}
	return r
}
