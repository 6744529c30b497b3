package tryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/buildmill/tryd/pkg/jobfile"
	"github.com/buildmill/tryd/pkg/mailbox"
	"github.com/buildmill/tryd/pkg/types"
)

// connector is the transport a Try delivers through. Exactly one of
// deliver or listBuilders is issued per client run.
type connector interface {
	deliver(ctx context.Context, j *types.Job) (buildsetID string, err error)
	listBuilders(ctx context.Context) ([]string, error)
	supportsWait() bool
}

// pbConnector talks to the userpass scheduler over its authenticated
// network surface.
type pbConnector struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

func newPbConnector(cfg Config) *pbConnector {
	return &pbConnector{
		baseURL:  "http://" + cfg.Master,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *pbConnector) deliver(ctx context.Context, j *types.Job) (string, error) {
	data, err := jobfile.Encode(j)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, "POST", "/jobs", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusCreated {
		return "", responseError(resp.StatusCode, body, c.username)
	}

	var ack struct {
		Buildset string `json:"buildset"`
	}
	err = json.Unmarshal(body, &ack)
	if err != nil {
		return "", fmt.Errorf("cannot parse submission ack '%s': %s", body, err)
	}
	return ack.Buildset, nil
}

func (c *pbConnector) listBuilders(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, "GET", "/builders", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp.StatusCode, body, c.username)
	}

	var names []string
	err = json.Unmarshal(body, &names)
	if err != nil {
		return nil, fmt.Errorf("cannot parse builder list '%s': %s", body, err)
	}
	return names, nil
}

func (c *pbConnector) supportsWait() bool {
	return true
}

func (c *pbConnector) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	if method == "POST" {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return c.client.Do(req)
}

// responseError maps the scheduler's status codes onto the client's typed
// errors.
func responseError(code int, body []byte, user string) error {
	msg := strings.TrimSpace(string(body))
	switch code {
	case http.StatusUnauthorized:
		return types.ErrAuthentication{User: user}
	case http.StatusUnprocessableEntity:
		return types.ErrUnknownBuilder{Builder: builderFromMessage(msg)}
	case http.StatusBadRequest:
		return types.ErrMalformedJob{Reason: msg}
	}
	return fmt.Errorf("master rejected request: %s, http code: %v", msg, code)
}

// builderFromMessage recovers the offending name from an "unknown builder
// 'x'" rejection.
func builderFromMessage(msg string) string {
	i := strings.Index(msg, "'")
	j := strings.LastIndex(msg, "'")
	if i == -1 || j <= i {
		return msg
	}
	return msg[i+1 : j]
}

// sshConnector writes jobs straight into the jobdir mailbox. It has no
// return channel, so builder listing and waiting are unsupported.
type sshConnector struct {
	jobdir string
}

func (c *sshConnector) deliver(ctx context.Context, j *types.Job) (string, error) {
	mbox, err := mailbox.New(c.jobdir)
	if err != nil {
		return "", err
	}
	_, err = mbox.Deliver(j)
	return "", err
}

func (c *sshConnector) listBuilders(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("cannot get available builders over ssh")
}

func (c *sshConnector) supportsWait() bool {
	return false
}
