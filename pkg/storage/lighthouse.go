package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type httpLighthouseFetcher struct {
	log *zap.Logger
}

func (f httpLighthouseFetcher) Fetch(ctx context.Context, endpoint, cid string) ([]byte, error) {
	f.log.Debug("getting lighthouse file", zap.String("cid", cid))
	return ReadLighthouse(ctx, endpoint, cid, 0)
}

// ReadLighthouse fetches {gateway}{cid} from a Lighthouse gateway.
// A positive timeout bounds the request in addition to ctx. Non-2xx
// responses are errors.
func ReadLighthouse(ctx context.Context, gateway, cid string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gateway+cid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("lighthouse %s: unexpected status %s", cid, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
