package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindErr struct{ sev Severity }

func (k kindErr) Error() string      { return "kind " + k.sev.String() }
func (k kindErr) Severity() Severity { return k.sev }

func TestSeverityOf_WrappedChain(t *testing.T) {
	err := Wrap(kindErr{sev: SeverityRecoverable}, "read frame")
	err = fmt.Errorf("step 3: %w", err)
	assert.Equal(t, SeverityRecoverable, SeverityOf(err))
	assert.True(t, Recoverable(err))
	assert.False(t, Fatal(err))
}

func TestFatal_Unclassified(t *testing.T) {
	err := New("boom")
	assert.Equal(t, SeverityUnknown, SeverityOf(err))
	assert.True(t, Fatal(err))
	assert.False(t, Recoverable(err))
	assert.False(t, Fatal(nil))
	assert.False(t, Recoverable(nil))
}

func TestWrapf_Nil(t *testing.T) {
	assert.Nil(t, Wrapf(nil, "x %d", 1))
	err := Wrapf(ErrInvalidState, "connect in %s", "connected")
	assert.True(t, Is(err, ErrInvalidState))
	assert.Equal(t, "connect in connected: invalid state", err.Error())
}
