package tryclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/buildmill/tryd/pkg/broker"
	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/mailbox"
	"github.com/buildmill/tryd/pkg/trysched"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(builders ...string) *types.Job {
	return &types.Job{
		ID: "id",
		SourceStamp: types.SourceStamp{
			Branch:   "br",
			Revision: "rr",
			Patch:    &types.Patch{Level: 0, Body: "++--"},
		},
		BuilderNames: builders,
	}
}

// masterEnv is a running userpass scheduler with builder "a", credentials
// u/p and an engine that immediately finishes every build successfully.
type masterEnv struct {
	sched *trysched.UserpassScheduler
	store *buildset.MemStore
}

func startMaster(t *testing.T, withEngine bool) *masterEnv {
	t.Helper()

	br := broker.NewBroker(discardLogger())
	go br.ListenForClients()
	t.Cleanup(br.Stop)

	store := buildset.NewMemStore(br)
	if withEngine {
		store.OnCreate = func(bs *buildset.Buildset) {
			for _, name := range bs.BuilderNames {
				err := store.RecordResult(bs.ID, name, types.StatusSuccess, "finished")
				if err != nil {
					panic(err)
				}
			}
		}
	}

	sched := trysched.NewUserpassScheduler("try", []string{"a"}, "127.0.0.1:0",
		map[string]string{"u": "p"}, store, br, discardLogger())
	require.NoError(t, sched.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	return &masterEnv{sched: sched, store: store}
}

func runClient(t *testing.T, cfg Config, job *types.Job) ([]string, error) {
	t.Helper()

	var buf bytes.Buffer
	try, err := New(cfg, job, &buf)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = try.Run(ctx)

	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return nil, err
	}
	return strings.Split(out, "\n"), err
}

func TestUserpassNoWait(t *testing.T) {
	env := startMaster(t, false)

	output, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "p",
	}, testJob("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"using 'pb' connect method",
		"job created",
		"Delivering job; comment= None",
		"job has been delivered",
		"not waiting for builds to finish",
	}, output)
	assert.Len(t, env.store.Buildsets(), 1)
}

func TestUserpassWait(t *testing.T) {
	env := startMaster(t, true)

	output, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "p",
		Wait:     true,
	}, testJob("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"using 'pb' connect method",
		"job created",
		"Delivering job; comment= None",
		"job has been delivered",
		"All Builds Complete",
		"a: success (finished)",
	}, output)
	assert.Len(t, env.store.Buildsets(), 1)
}

func TestUserpassWaitSlowBuilds(t *testing.T) {
	env := startMaster(t, false)

	// builds finish only after the client has started waiting
	env.store.OnCreate = func(bs *buildset.Buildset) {
		time.Sleep(300 * time.Millisecond)
		err := env.store.RecordResult(bs.ID, "a", types.StatusFailure, "failed")
		if err != nil {
			panic(err)
		}
	}

	output, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "p",
		Wait:     true,
	}, testJob("a"))
	require.NoError(t, err)

	assert.Equal(t, "All Builds Complete", output[len(output)-2])
	assert.Equal(t, "a: failure (failed)", output[len(output)-1])
}

func TestUserpassWaitComment(t *testing.T) {
	env := startMaster(t, false)

	job := testJob("a")
	job.Comment = "try this"
	output, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "p",
	}, job)
	require.NoError(t, err)

	assert.Contains(t, output, "Delivering job; comment= try this")
	require.Len(t, env.store.Buildsets(), 1)
	assert.Equal(t, "try this", env.store.Buildsets()[0].Comment)
}

func TestUserpassListBuilders(t *testing.T) {
	env := startMaster(t, false)

	output, err := runClient(t, Config{
		Connect:         types.Pb,
		Master:          env.sched.Addr(),
		Username:        "u",
		Password:        "p",
		GetBuilderNames: true,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"using 'pb' connect method",
		"The following builders are available for the try scheduler: ",
		"a",
	}, output)
	assert.Empty(t, env.store.Buildsets())
}

func TestUserpassBadCredentials(t *testing.T) {
	env := startMaster(t, false)

	output, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "wrong",
	}, testJob("a"))
	require.Error(t, err)

	var authErr types.ErrAuthentication
	assert.True(t, errors.As(err, &authErr))
	assert.NotContains(t, output, "job has been delivered")
	assert.Empty(t, env.store.Buildsets(), "no buildset may exist after a failed authentication")
}

func TestUserpassUnknownBuilder(t *testing.T) {
	env := startMaster(t, false)

	_, err := runClient(t, Config{
		Connect:  types.Pb,
		Master:   env.sched.Addr(),
		Username: "u",
		Password: "p",
	}, testJob("a", "z"))
	require.Error(t, err)

	var ubErr types.ErrUnknownBuilder
	require.True(t, errors.As(err, &ubErr))
	assert.Equal(t, "z", ubErr.Builder)
	assert.Empty(t, env.store.Buildsets())
}

func TestJobdirNoWait(t *testing.T) {
	root := t.TempDir()
	mbox, err := mailbox.New(root)
	require.NoError(t, err)
	store := buildset.NewMemStore(nil)
	sched := trysched.NewJobdirScheduler("try", []string{"a"}, mbox, store,
		time.Minute, discardLogger())

	output, err := runClient(t, Config{
		Connect: types.Ssh,
		Jobdir:  root,
	}, testJob("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"using 'ssh' connect method",
		"job created",
		"job has been delivered",
		"not waiting for builds to finish",
	}, output)

	require.NoError(t, sched.Poll())
	assert.Len(t, store.Buildsets(), 1)
}

func TestJobdirWait(t *testing.T) {
	root := t.TempDir()
	mbox, err := mailbox.New(root)
	require.NoError(t, err)
	store := buildset.NewMemStore(nil)
	sched := trysched.NewJobdirScheduler("try", []string{"a"}, mbox, store,
		time.Minute, discardLogger())

	start := time.Now()
	output, err := runClient(t, Config{
		Connect: types.Ssh,
		Jobdir:  root,
		Wait:    true,
	}, testJob("a"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"using 'ssh' connect method",
		"job created",
		"job has been delivered",
		"waiting for builds with ssh is not supported",
	}, output)
	assert.Less(t, time.Since(start), 5*time.Second, "unsupported wait must return promptly")

	require.NoError(t, sched.Poll())
	assert.Len(t, store.Buildsets(), 1)
}

func TestJobdirListBuilders(t *testing.T) {
	_, err := runClient(t, Config{
		Connect:         types.Ssh,
		Jobdir:          t.TempDir(),
		GetBuilderNames: true,
	}, nil)
	assert.Error(t, err, "builder listing has no return channel over ssh")
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	_, err := New(Config{Connect: types.Pb}, testJob("a"), nil)
	assert.Error(t, err, "pb needs a master address")

	_, err = New(Config{Connect: types.Ssh}, testJob("a"), nil)
	assert.Error(t, err, "ssh needs a jobdir")

	_, err = New(Config{Connect: "carrier-pigeon"}, testJob("a"), nil)
	assert.Error(t, err)
}
