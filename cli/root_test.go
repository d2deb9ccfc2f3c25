package cli

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	t.Parallel()
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"open", "wait", "exists", "fill", "click", "session"}, names)

	for _, flag := range []string{"engine-url", "timeout", "log-level", "session-dir", "trace", "metrics"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing persistent flag %q", flag)
	}
}

func TestSessionCommandTree(t *testing.T) {
	t.Parallel()
	root := NewRootCommand()

	sess, _, err := root.Find([]string{"session", "restore"})
	require.NoError(t, err)
	assert.Equal(t, "restore", sess.Name())
	assert.NotNil(t, sess.Flags().Lookup("continue-on-error"))
}

func TestUnmetErrorCarriesExitCode(t *testing.T) {
	t.Parallel()
	err := unmet("condition not met within %v", "5s")

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, codeUnmet, ee.code)
	assert.Equal(t, "condition not met within 5s", ee.Error())

	wrapped := errors.Wrap(err, "wait")
	require.True(t, errors.As(wrapped, &ee))
	assert.Equal(t, codeUnmet, ee.code)
}

func TestWaitRequiresExactlyOneCondition(t *testing.T) {
	t.Parallel()
	root := NewRootCommand()
	root.SetArgs([]string{"wait"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of")
}
