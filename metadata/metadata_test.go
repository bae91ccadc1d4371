package metadata

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout(t *testing.T) {
	h := make(http.Header)
	_, ok := Timeout(h)
	assert.False(t, ok)

	SetTimeout(h, 1500*time.Millisecond)
	assert.Equal(t, "1500", h.Get("h2rpc-timeout"))

	d, ok := Timeout(h)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	SetTimeout(h, -time.Second)
	d, ok = Timeout(h)
	require.True(t, ok)
	assert.Zero(t, d)

	h.Set(TimeoutKey, "soon")
	_, ok = Timeout(h)
	assert.False(t, ok)
}

func TestToMD(t *testing.T) {
	h := make(http.Header)
	h.Set("X-Trace-Id", "abc")
	h.Add("X-Multi", "1")
	h.Add("X-Multi", "2")
	h.Set("Content-Type", ContentType)

	md := ToMD(h)
	assert.Equal(t, []string{"abc"}, md.Get("x-trace-id"))
	assert.Equal(t, []string{"1", "2"}, md.Get("x-multi"))
	assert.Empty(t, md.Get("content-type"))
}

func TestFromMD(t *testing.T) {
	h := make(http.Header)
	h.Add("X-Multi", "1")
	h.Add("X-Multi", "2")

	back := FromMD(ToMD(h))
	assert.Equal(t, []string{"1", "2"}, back.Values("x-multi"))
}
