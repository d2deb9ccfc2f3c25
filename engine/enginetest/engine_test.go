package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headlessweb/hweb/engine"
)

func TestEvaluatePrimitives(t *testing.T) {
	t.Parallel()

	e := New()
	ctx := context.Background()

	res, err := e.Evaluate(ctx, `1 + 1`)
	require.NoError(t, err)
	assert.Equal(t, "2", res.Value)

	res, err = e.Evaluate(ctx, `"a" + "b"`)
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Value)

	res, err = e.Evaluate(ctx, `2 > 1`)
	require.NoError(t, err)
	assert.Equal(t, "true", res.Value)

	res, err = e.Evaluate(ctx, `null`)
	require.NoError(t, err)
	assert.Empty(t, res.Value)
}

func TestEvaluateExceptionIsNotAnError(t *testing.T) {
	t.Parallel()

	e := New()
	res, err := e.Evaluate(context.Background(), `missingFunction()`)
	require.NoError(t, err)
	assert.True(t, res.Exception)
	assert.Empty(t, res.Value)
}

func TestEvaluateObjectsAsJSON(t *testing.T) {
	t.Parallel()

	e := New()
	res, err := e.Evaluate(context.Background(), `({ready: true, count: 3})`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ready": true, "count": 3}`, res.Value)
}

func TestDocumentScaffold(t *testing.T) {
	t.Parallel()

	e := New()
	e.MustRun(`document.elements['#x'] = {id: 'x'}`)

	v := engine.EvaluateSync(context.Background(), e, `document.querySelector('#x') !== null`)
	assert.Equal(t, "true", v)

	v = engine.EvaluateSync(context.Background(), e, `document.querySelector('#missing') !== null`)
	assert.Equal(t, "false", v)
}

func TestLoadURISynthesizesSignals(t *testing.T) {
	t.Parallel()

	e := New()
	var kinds []engine.SignalKind
	e.Connect(func(sig engine.Signal) {
		kinds = append(kinds, sig.Kind)
	})

	require.NoError(t, e.LoadURI(context.Background(), "https://a.test"))
	e.DrainPending()

	assert.Equal(t, []engine.SignalKind{
		engine.SignalLoadStarted,
		engine.SignalURIChanged,
		engine.SignalLoadCommitted,
		engine.SignalLoadFinished,
	}, kinds)

	url, err := e.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", url)
}
