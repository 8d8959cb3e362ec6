package probe

import (
	"context"
	"fmt"
	"net/http"
)

// HTTP checks readiness by making an HTTP GET request.
// Any 2xx response is considered ready.
type HTTP struct {
	URL string
}

func (h *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
