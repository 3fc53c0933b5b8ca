package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"duelctl/internal/events"
)

// Events subscribes to a node's pushed event stream. The returned channel
// closes when ctx is cancelled or the stream ends; the caller owns draining
// it. The streaming request deliberately bypasses the client timeout.
func (c *Client) Events(ctx context.Context) (<-chan events.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// A dedicated client without Timeout: the stream stays open for the
	// life of the subscription.
	streamClient := &http.Client{Transport: c.http.Transport}
	res, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, statusError(res)
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer res.Body.Close()
		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 4096), 256*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
