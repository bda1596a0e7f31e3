package peripheral

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
)

const maxFrameBytes = 16 << 20

// HTTPCapture fetches the current frame from a camera's snapshot URL.
// 204 and 404 mean no frame is available.
type HTTPCapture struct {
	client *http.Client
	url    string
	now    func() time.Time
}

func NewHTTPCapture(client *http.Client, url string) *HTTPCapture {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPCapture{client: client, url: url, now: time.Now}
}

func (c *HTTPCapture) AcquireFrame(ctx context.Context) (service.Frame, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return service.Frame{}, false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return service.Frame{}, false, fmt.Errorf("snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return service.Frame{}, false, nil
	default:
		return service.Frame{}, false, fmt.Errorf("snapshot: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return service.Frame{}, false, fmt.Errorf("snapshot body: %w", err)
	}
	if len(data) == 0 {
		return service.Frame{}, false, nil
	}
	return service.Frame{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		CapturedAt:  c.now().UTC(),
	}, true, nil
}
