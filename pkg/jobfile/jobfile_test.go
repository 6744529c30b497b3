package jobfile

import (
	"bytes"
	"errors"
	"testing"

	"github.com/buildmill/tryd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	jobs := map[string]*types.Job{
		"single builder": {
			ID: "7f3a",
			SourceStamp: types.SourceStamp{
				Branch:   "br",
				Revision: "rr",
				Patch:    &types.Patch{Level: 0, Body: "++--"},
			},
			BuilderNames: []string{"a"},
		},
		"multiple builders with comment": {
			ID: "7f3b",
			SourceStamp: types.SourceStamp{
				Branch:   "main",
				Revision: "deadbeef",
				Patch:    &types.Patch{Level: 1, Body: "--- a/x\n+++ b/x\n"},
			},
			BuilderNames: []string{"linux", "osx", "win"},
			Comment:      "fix the frobnicator",
		},
		"no patch": {
			ID: "7f3c",
			SourceStamp: types.SourceStamp{
				Revision: "deadbeef",
			},
			BuilderNames: []string{"linux"},
		},
	}

	for name, job := range jobs {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(job)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, job, decoded)
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	job := &types.Job{
		ID:           "id",
		SourceStamp:  types.SourceStamp{Branch: "br", Revision: "rr"},
		BuilderNames: []string{"a", "b"},
	}

	first, err := Encode(job)
	require.NoError(t, err)
	second, err := Encode(job)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeInvalidJob(t *testing.T) {
	_, err := Encode(&types.Job{ID: "id", SourceStamp: types.SourceStamp{Revision: "rr"}})
	assert.Error(t, err, "a job without builders must not encode")

	_, err = Encode(&types.Job{ID: "id", BuilderNames: []string{"a"}})
	assert.Error(t, err, "a job without a revision must not encode")
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(&types.Job{
		ID:           "id",
		SourceStamp:  types.SourceStamp{Branch: "br", Revision: "rr"},
		BuilderNames: []string{"a"},
	})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty input":        {},
		"not netstrings":     []byte("this is not a job"),
		"truncated":          valid[:len(valid)-4],
		"trailing data":      append(append([]byte{}, valid...), []byte("1:x,")...),
		"bad length prefix":  []byte("x:,"),
		"missing terminator": []byte("1:1X"),
		"unknown version":    []byte("2:99,2:id,2:br,2:rr,2:-1,0:,0:,1:1,1:a,"),
		"patch level not an integer": []byte(
			"1:1,2:id,2:br,2:rr,3:two,0:,0:,1:1,1:a,"),
		"builder count mismatch": []byte(
			"1:1,2:id,2:br,2:rr,2:-1,0:,0:,1:2,1:a,"),
		"empty builder list": []byte(
			"1:1,2:id,2:br,2:rr,2:-1,0:,0:,1:0,"),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)

			var malformed types.ErrMalformedJob
			assert.True(t, errors.As(err, &malformed), "want ErrMalformedJob, got %#v", err)
		})
	}
}

func TestDecodeLargePatch(t *testing.T) {
	job := &types.Job{
		ID: "id",
		SourceStamp: types.SourceStamp{
			Revision: "rr",
			Patch:    &types.Patch{Level: 1, Body: string(bytes.Repeat([]byte("+x\n"), 100000))},
		},
		BuilderNames: []string{"a"},
	}

	data, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job.Patch.Body, decoded.Patch.Body)
}
