package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRecordsResults(t *testing.T) {
	store := buildset.NewMemStore(nil)
	eng := NewCommandEngine(map[string]string{
		"ok":   "true",
		"bad":  "false",
		"slow": "sleep 10",
	}, store, 200*time.Millisecond, discardLogger())

	bs, err := store.CreateBuildset(types.SourceStamp{Revision: "rr"},
		[]string{"ok", "bad", "slow"}, "")
	require.NoError(t, err)

	eng.Run(bs)

	got, ok := store.Buildset(bs.ID)
	require.True(t, ok)
	assert.True(t, got.Complete())
	assert.Equal(t, buildset.BuildResult{Status: types.StatusSuccess, Text: "finished"},
		got.Results["ok"])
	assert.Equal(t, buildset.BuildResult{Status: types.StatusFailure, Text: "failed"},
		got.Results["bad"])
	assert.Equal(t, types.StatusException, got.Results["slow"].Status)
}

func TestRunUnconfiguredBuilder(t *testing.T) {
	store := buildset.NewMemStore(nil)
	eng := NewCommandEngine(map[string]string{}, store, 0, discardLogger())

	bs, err := store.CreateBuildset(types.SourceStamp{Revision: "rr"}, []string{"ghost"}, "")
	require.NoError(t, err)

	eng.Run(bs)

	got, _ := store.Buildset(bs.ID)
	assert.Equal(t, types.StatusException, got.Results["ghost"].Status)
	assert.Equal(t, "no command configured", got.Results["ghost"].Text)
}
