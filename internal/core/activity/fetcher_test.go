package activity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apview/internal/core/netguard"
)

type headerSigner struct{}

func (headerSigner) SignRequest(r *http.Request) error {
	r.Header.Set("Signature", `keyId="test"`)
	return nil
}

func TestHTTPFetcher_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AcceptActivity, r.Header.Get("Accept"))
		assert.Equal(t, "apview-test", r.Header.Get("User-Agent"))
		assert.Equal(t, `keyId="test"`, r.Header.Get("Signature"))
		w.Header().Set("Content-Type", "application/activity+json")
		w.Write([]byte(`{"type":"Note"}`))
	}))
	defer server.Close()

	f := NewHTTPFetcher(FetcherOptions{UserAgent: "apview-test", Signer: headerSigner{}})
	resp, err := f.Get(context.Background(), server.URL+"/notes/1", AcceptActivity)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/activity+json", resp.ContentType)
	assert.Equal(t, server.URL+"/notes/1", resp.FinalURL)
	assert.JSONEq(t, `{"type":"Note"}`, string(resp.Body))
}

func TestHTTPFetcher_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x"}`))
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := NewHTTPFetcher(FetcherOptions{MaxRedirects: 3})

	resp, err := f.Get(context.Background(), server.URL+"/old", AcceptActivity)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new", resp.FinalURL)

	_, err = f.Get(context.Background(), server.URL+"/loop", AcceptActivity)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestHTTPFetcher_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	resp, err := NewHTTPFetcher(FetcherOptions{}).Get(context.Background(), server.URL, AcceptActivity)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestHTTPFetcher_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"` + strings.Repeat("a", 200) + `"`))
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(FetcherOptions{MaxBodyBytes: 100}).Get(context.Background(), server.URL, AcceptActivity)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewHTTPFetcher(FetcherOptions{Timeout: 50 * time.Millisecond}).Get(context.Background(), server.URL, AcceptActivity)
	assert.ErrorIs(t, err, ErrFetchTimeout)
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFetcher(FetcherOptions{}).Get(ctx, server.URL, AcceptActivity)
	assert.ErrorIs(t, err, ErrFetchTimeout)
}

func TestHTTPFetcher_GuardBlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("guarded fetcher must not reach a loopback server")
	}))
	defer server.Close()

	f := NewHTTPFetcher(FetcherOptions{Guard: netguard.New(0)})
	_, err := f.Get(context.Background(), server.URL, AcceptActivity)
	require.Error(t, err)

	var rejected *netguard.RejectedError
	assert.True(t, errors.As(err, &rejected))
	assert.ErrorIs(t, err, netguard.ErrBlockedAddress)
}
