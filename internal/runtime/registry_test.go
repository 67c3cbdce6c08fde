package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingHandle struct {
	name string
	log  *[]string
	err  error
}

func (h recordingHandle) Stop(context.Context) error {
	*h.log = append(*h.log, "stop:"+h.name)
	return h.err
}

type closerHandle struct {
	name string
	log  *[]string
}

func (h closerHandle) Close() error {
	*h.log = append(*h.log, "close:"+h.name)
	return nil
}

func TestRegistrySetGetNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set(HandleSearch, "index"))
	require.NoError(t, r.Set(HandleNavigation, "nav"))
	require.NoError(t, r.Set(HandleSearch, "index-2"))

	h, ok := r.Get(HandleSearch)
	require.True(t, ok)
	require.Equal(t, "index-2", h)
	require.Equal(t, []string{HandleNavigation, HandleSearch}, r.Names())

	require.Error(t, r.Set("", "x"))
	require.Error(t, r.Set("x", nil))
}

func TestRegistryTeardownReverseOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	require.NoError(t, r.Set(HandleClient, recordingHandle{name: "client", log: &log}))
	require.NoError(t, r.Set(HandleCodeCopy, closerHandle{name: "codecopy", log: &log}))
	require.NoError(t, r.Set(HandleSearch, recordingHandle{name: "search", log: &log, err: errors.New("boom")}))
	require.NoError(t, r.Set(HandleNavigation, "plain value"))

	err := r.Teardown(t.Context())
	require.ErrorContains(t, err, "boom")
	require.Equal(t, []string{"stop:search", "close:codecopy", "stop:client"}, log)
	require.Empty(t, r.Names())

	require.NoError(t, r.Teardown(t.Context()))
	require.ErrorIs(t, r.Set(HandleClient, "again"), ErrTornDown)
}
