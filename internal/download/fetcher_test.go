package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorce/amp/internal/config"
	"github.com/vorce/amp/internal/playback/streamsource"
)

func testFetcher() *Fetcher {
	return NewFetcher(&config.Config{Debug: false})
}

func TestFetchBytesReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := testFetcher()
	data, err := f.FetchBytes(context.Background(), srv.URL, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFetchBytesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher()
	f.client.RetryMax = 0
	_, err := f.FetchBytes(context.Background(), srv.URL, 5*time.Second)
	assert.Error(t, err)
}

func TestFetchStreamingPushesAndFinishes(t *testing.T) {
	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := testFetcher()
	src := streamsource.New(streamsource.Config{MinStartBytes: 1024, MaxPrebufferBytes: 1 << 20}, false)
	cancel := make(chan struct{})

	err := f.FetchStreaming(context.Background(), srv.URL, src, cancel)
	require.NoError(t, err)
	assert.True(t, src.IsComplete())

	got := make([]byte, len(payload))
	n, readErr := readFull(src, got)
	require.NoError(t, readErr)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func readFull(src *streamsource.Source, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := src.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
