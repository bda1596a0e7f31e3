package peripheral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// HTTPExtractor posts a frame to an encoding service and reads back the
// encodings of the faces it found.  The first face is used.
type HTTPExtractor struct {
	client *http.Client
	url    string
}

type extractResponse struct {
	Encodings [][]float64 `json:"encodings"`
}

func NewHTTPExtractor(client *http.Client, url string, timeout time.Duration) *HTTPExtractor {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPExtractor{client: client, url: url}
}

func (x *HTTPExtractor) FeatureVector(ctx context.Context, f service.Frame) (types.Vector, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url, bytes.NewReader(f.Data))
	if err != nil {
		return nil, false, err
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("extract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("extract: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("extract: decode: %w", err)
	}
	if len(out.Encodings) == 0 {
		return nil, false, nil
	}
	return types.Vector(out.Encodings[0]), true, nil
}
