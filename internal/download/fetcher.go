package download

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vorce/amp/internal/config"
	"github.com/vorce/amp/internal/playback/perr"
	"github.com/vorce/amp/internal/playback/streamsource"
)

// fetchChunkSize bounds a single read from the upstream response body
// before it is pushed into the streaming source, keeping memory use
// proportional to one chunk rather than the whole track.
const fetchChunkSize = 64 * 1024

// Fetcher is the §6 upstream audio fetcher collaborator: one-shot and
// progressive downloads of track bytes from the remote catalog's
// resolved stream URL. Fetcher feeds the playback pipeline directly
// rather than writing files to local storage.
type Fetcher struct {
	client      *retryablehttp.Client
	connTimeout time.Duration
	debug       bool
}

func NewFetcher(cfg *config.Config) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	client.HTTPClient.Timeout = 0 // per-request context timeout controls this instead

	return &Fetcher{
		client:      client,
		connTimeout: 10 * time.Second,
		debug:       cfg.Debug,
	}
}

// FetchBytes performs a one-shot download with a total timeout,
// returning the full body. Used for short tracks or local-quality
// fallbacks where streaming adds no latency benefit.
func (f *Fetcher) FetchBytes(ctx context.Context, url string, totalTimeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.New(perr.KindNetworkAbort, "FetchBytes", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(ctx, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[FETCH] close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, perr.New(perr.KindNetworkHTTPStatus, "FetchBytes", fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.New(perr.KindNetworkAbort, "FetchBytes", err)
	}
	return data, nil
}

// FetchStreaming performs a progressive download, pushing each
// received chunk into src (the §4.A writer contract) as it arrives.
// It returns once the body is fully read or cancelSignal fires,
// leaving the source's terminal state (Finish or Cancel) set
// accordingly. The caller owns src's lifecycle; FetchStreaming never
// calls src.Close.
func (f *Fetcher) FetchStreaming(ctx context.Context, url string, src *streamsource.Source, cancelSignal <-chan struct{}) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-cancelSignal:
			cancel()
		case <-reqCtx.Done():
		}
	}()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		src.Cancel(err)
		return perr.New(perr.KindNetworkAbort, "FetchStreaming", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		wrapped := classifyHTTPError(reqCtx, err)
		src.Cancel(wrapped)
		return wrapped
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[FETCH] close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		statusErr := perr.New(perr.KindNetworkHTTPStatus, "FetchStreaming", fmt.Errorf("status %d", resp.StatusCode))
		src.Cancel(statusErr)
		return statusErr
	}

	if resp.ContentLength > 0 {
		src.SetExpectedTotal(resp.ContentLength)
	}

	buf := make([]byte, fetchChunkSize)
	for {
		select {
		case <-cancelSignal:
			err := perr.New(perr.KindStreamCancelled, "FetchStreaming", context.Canceled)
			src.Cancel(err)
			return err
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if pushErr := src.Push(chunk); pushErr != nil {
				return pushErr
			}
		}

		if readErr == io.EOF {
			src.Finish()
			if f.debug {
				log.Printf("[FETCH] streaming complete: %s", url)
			}
			return nil
		}
		if readErr != nil {
			wrapped := perr.New(perr.KindNetworkAbort, "FetchStreaming", readErr)
			src.Cancel(wrapped)
			return wrapped
		}
	}
}

func classifyHTTPError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return perr.New(perr.KindNetworkTimeout, "fetch", err)
	}
	if ctx.Err() == context.Canceled {
		return perr.New(perr.KindStreamCancelled, "fetch", err)
	}
	return perr.New(perr.KindNetworkAbort, "fetch", err)
}
