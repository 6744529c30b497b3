package tryclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/types"
)

// waitForBuilds subscribes to the buildset's completion stream and blocks
// until every builder named in the job has reported a terminal status. The
// caller is suspended on the connection between notifications; there is no
// polling loop on the client side.
func (t *Try) waitForBuilds(ctx context.Context, buildsetID string) (map[string]buildset.BuildResult, error) {
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	pb, ok := t.conn.(*pbConnector)
	if !ok {
		return nil, fmt.Errorf("waiting is not supported over %s", t.cfg.Connect)
	}

	req, err := http.NewRequestWithContext(ctx, "GET",
		pb.baseURL+"/buildsets/"+buildsetID+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(pb.username, pb.password)

	// the event stream stays open for the whole wait, so the connector's
	// per-request timeout must not apply
	client := &http.Client{Transport: pb.client.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, responseError(resp.StatusCode, body, pb.username)
	}

	pending := make(map[string]bool, len(t.job.BuilderNames))
	for _, name := range t.job.BuilderNames {
		pending[name] = true
	}
	results := make(map[string]buildset.BuildResult, len(pending))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev types.BuildEvent
		err = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev)
		if err != nil {
			return nil, fmt.Errorf("cannot parse build event '%s': %s", line, err)
		}

		if !ev.Status.Terminal() || !pending[ev.Builder] {
			continue
		}
		results[ev.Builder] = buildset.BuildResult{Status: ev.Status, Text: ev.Text}
		delete(pending, ev.Builder)
		if len(pending) == 0 {
			return results, nil
		}
	}

	err = scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return nil, fmt.Errorf("completion stream ended before all builds finished: %s", err)
}
