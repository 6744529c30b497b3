// Package jobfile implements the wire format of try jobs: a flat sequence
// of netstring-framed fields. The same encoding is used for mailbox entries
// and for network submissions.
//
// Field order: format version, job id, branch, revision, patch level
// (decimal, -1 when the job carries no patch), patch body, comment, builder
// count, then one field per builder name.
package jobfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/buildmill/tryd/pkg/types"
)

// FormatVersion is the only job format this package reads and writes.
const FormatVersion = "1"

// maxFieldLen bounds a single netstring payload. Diffs can be large but a
// gigabyte-sized field is a framing error, not a job.
const maxFieldLen = 64 << 20

// Encode serializes j. The output is deterministic and round-trips through
// Decode.
func Encode(j *types.Job) ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}

	level := -1
	body := ""
	if j.Patch != nil {
		level = j.Patch.Level
		body = j.Patch.Body
	}

	fields := []string{
		FormatVersion,
		j.ID,
		j.Branch,
		j.Revision,
		strconv.Itoa(level),
		body,
		j.Comment,
		strconv.Itoa(len(j.BuilderNames)),
	}
	fields = append(fields, j.BuilderNames...)

	var buf bytes.Buffer
	for _, f := range fields {
		writeNetstring(&buf, f)
	}
	return buf.Bytes(), nil
}

// Decode parses data into a Job. It returns a types.ErrMalformedJob if the
// structural shape is invalid.
func Decode(data []byte) (*types.Job, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	version, err := readField(r, "version")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, types.ErrMalformedJob{Reason: fmt.Sprintf("unknown format version '%s'", version)}
	}

	j := new(types.Job)
	if j.ID, err = readField(r, "job id"); err != nil {
		return nil, err
	}
	if j.Branch, err = readField(r, "branch"); err != nil {
		return nil, err
	}
	if j.Revision, err = readField(r, "revision"); err != nil {
		return nil, err
	}

	levelField, err := readField(r, "patch level")
	if err != nil {
		return nil, err
	}
	level, err := strconv.Atoi(levelField)
	if err != nil {
		return nil, types.ErrMalformedJob{Reason: fmt.Sprintf("patch level '%s' is not an integer", levelField)}
	}

	body, err := readField(r, "patch body")
	if err != nil {
		return nil, err
	}
	if level >= 0 {
		j.Patch = &types.Patch{Level: level, Body: body}
	}

	if j.Comment, err = readField(r, "comment"); err != nil {
		return nil, err
	}

	countField, err := readField(r, "builder count")
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countField)
	if err != nil || count < 0 {
		return nil, types.ErrMalformedJob{Reason: fmt.Sprintf("invalid builder count '%s'", countField)}
	}

	for i := 0; i < count; i++ {
		name, err := readField(r, "builder name")
		if err != nil {
			return nil, err
		}
		j.BuilderNames = append(j.BuilderNames, name)
	}

	// trailing fields mean the builder count lied
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, types.ErrMalformedJob{Reason: "trailing data after builder list"}
	}

	if err := j.Validate(); err != nil {
		return nil, types.ErrMalformedJob{Reason: err.Error()}
	}

	return j, nil
}

// writeNetstring frames s as <len>:<s>, into buf.
func writeNetstring(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
	buf.WriteByte(',')
}

// readNetstring reads one <len>:<payload>, frame from r.
func readNetstring(r *bufio.Reader) (string, error) {
	lenStr, err := r.ReadString(':')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(lenStr[:len(lenStr)-1])
	if err != nil || n < 0 || n > maxFieldLen {
		return "", fmt.Errorf("invalid length prefix '%s'", lenStr[:len(lenStr)-1])
	}

	payload := make([]byte, n+1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", err
	}
	if payload[n] != ',' {
		return "", fmt.Errorf("missing terminator after %d-byte field", n)
	}
	return string(payload[:n]), nil
}

func readField(r *bufio.Reader, name string) (string, error) {
	s, err := readNetstring(r)
	if err != nil {
		return "", types.ErrMalformedJob{Reason: fmt.Sprintf("cannot read %s field: %s", name, err)}
	}
	return s, nil
}
