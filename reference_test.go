package atom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npekslin/atom/serialization"
)

func TestReferenceCreateAndGet(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	keys, err := el.ReferenceCreate(ctx, []interface{}{[]byte("hello"), []byte("world")})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	values, err := el.ReferenceGet(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(values[0].([]byte)))
	assert.Equal(t, "world", string(values[1].([]byte)))
}

func TestReferenceGetMissingKeyIsNil(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	values, err := el.ReferenceGet(ctx, []string{"reference:camera:does-not-exist:ser:none"})
	require.NoError(t, err)
	assert.Nil(t, values[0])
}

func TestReferenceDeleteMissingKeyErrors(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	err := el.ReferenceDelete(ctx, "reference:camera:does-not-exist:ser:none")
	assert.ErrorIs(t, err, ErrNoSuchReference)
}

func TestReferenceTimeoutLifecycle(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	keys, err := el.ReferenceCreate(ctx, []interface{}{[]byte("v")}, WithReferenceTimeout(time.Minute))
	require.NoError(t, err)
	key := keys[0]

	ttl, err := el.ReferenceGetTimeoutMS(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, ttl, int64(0))
	assert.LessOrEqual(t, ttl, time.Minute.Milliseconds())

	require.NoError(t, el.ReferenceUpdateTimeoutMS(ctx, key, 0))
	ttl, err = el.ReferenceGetTimeoutMS(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl)

	require.NoError(t, el.ReferenceDelete(ctx, key))
	_, err = el.ReferenceGetTimeoutMS(ctx, key)
	assert.ErrorIs(t, err, ErrNoSuchReference)
}

func TestReferenceCreateFromStreamMostRecent(t *testing.T) {
	ctx := context.Background()
	el, _ := newTestElement(t, "camera")

	_, err := el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("stale")})
	require.NoError(t, err)
	_, err = el.EntryWrite(ctx, "images", map[string]interface{}{"frame": []byte("fresh")})
	require.NoError(t, err)

	if el.referenceScriptSHA == "" {
		t.Skip("reference script did not load against this miniredis version (EVAL/SCRIPT unsupported)")
	}

	refs, err := el.ReferenceCreateFromStream(ctx, "camera", "images", "")
	require.NoError(t, err)
	frameKey, ok := refs["frame"]
	require.True(t, ok, "ReferenceCreateFromStream() = %v, missing \"frame\" key", refs)

	values, err := el.ReferenceGet(ctx, []string{frameKey}, WithReadSerialization(serialization.None))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(values[0].([]byte)))
}
