package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohitkumar/flock/server/model"
)

type client struct {
	serverUrl string
	http      *http.Client
}

func newClient(serverUrl string) *client {
	return &client{
		serverUrl: serverUrl,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type checkinResponse struct {
	Requests []model.Request `json:"requests"`
}

func (c *client) Checkin(ctx context.Context, clientId string) ([]model.Request, error) {
	url := fmt.Sprintf("%s/client/%s/checkin", c.serverUrl, clientId)
	var out checkinResponse
	if err := c.post(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *client) PushResult(ctx context.Context, clientId string, resp *model.Response) error {
	url := fmt.Sprintf("%s/client/%s/response", c.serverUrl, clientId)
	return c.post(ctx, url, resp, nil)
}

func (c *client) UpdateAttributes(ctx context.Context, clientId string, attributes map[string]any) error {
	url := fmt.Sprintf("%s/client/%s/attributes", c.serverUrl, clientId)
	body, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *client) post(ctx context.Context, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("server returned %d: %s", res.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
