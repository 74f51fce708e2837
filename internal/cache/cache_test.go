package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binderrors "github.com/conneroisu/tmplbind/internal/errors"
)

func constant(s string) RawRenderer {
	return func(any) (string, error) { return s, nil }
}

func TestCache_GetMissing(t *testing.T) {
	c := New()

	assert.False(t, c.Has("widget"))
	_, err := c.Get("widget")
	require.Error(t, err)
	assert.True(t, binderrors.IsTemplateNotFound(err))
	assert.Equal(t, "widget", binderrors.NameOf(err))
}

func TestCache_SetFirstWriterWins(t *testing.T) {
	c := New()

	assert.True(t, c.Set("widget", Raw(constant("first"))))
	assert.False(t, c.Set("widget", Raw(constant("second"))))

	entry, err := c.Get("widget")
	require.NoError(t, err)
	out, err := entry.Raw(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)
	assert.Equal(t, 1, c.Len())
}

func TestCache_SetRejectsInvalid(t *testing.T) {
	c := New()

	assert.False(t, c.Set("a", Entry{Kind: KindRaw}))
	assert.False(t, c.Set("b", Entry{Kind: KindScoped}))
	assert.False(t, c.Set("c", Entry{Kind: Kind(9), Raw: constant("x")}))
	assert.Equal(t, 0, c.Len())

	// a rejected write does not block a valid one
	assert.True(t, c.Set("a", Raw(constant("ok"))))
}

func TestCache_Scoped(t *testing.T) {
	c := New()

	var calls int
	require.True(t, c.Set("list", Scoped(func(ctx context.Context, data any, selector string) (int, error) {
		calls++
		return 2, nil
	})))

	entry, err := c.Get("list")
	require.NoError(t, err)
	assert.Equal(t, KindScoped, entry.Kind)
	n, err := entry.Scoped(context.Background(), nil, "*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, calls)
}

func TestCache_Names(t *testing.T) {
	c := New()
	c.Set("b", Raw(constant("")))
	c.Set("a", Raw(constant("")))
	c.Set("c", Raw(constant("")))

	assert.Equal(t, []string{"a", "b", "c"}, c.Names())
}

func TestCache_ConcurrentSet(t *testing.T) {
	c := New()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Set("widget", Raw(constant(fmt.Sprint(i)))) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, c.Has("widget"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "raw", KindRaw.String())
	assert.Equal(t, "scoped", KindScoped.String())
	assert.Equal(t, "unknown", Kind(5).String())
}
