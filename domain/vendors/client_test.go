package vendors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

func testClient(t *testing.T, settings clientSettings) *Client {
	t.Helper()
	if settings.backoffBase == 0 {
		settings.backoffBase = time.Millisecond
	}
	return newClient(settings, logger.NewLogger())
}

func TestClientGet(t *testing.T) {
	t.Run("sends identifying user agent", func(t *testing.T) {
		var gotUA string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		client := testClient(t, clientSettings{})
		body, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
		assert.True(t, strings.HasPrefix(gotUA, "engagic/"), "user agent %q", gotUA)
		assert.Contains(t, gotUA, "contact@engagic.org")
	})

	t.Run("retries server errors until success", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte("recovered"))
		}))
		defer server.Close()

		client := testClient(t, clientSettings{maxRetries: 3})
		body, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "recovered", string(body))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted retries on 429 return rate limited", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := testClient(t, clientSettings{maxRetries: 2})
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrVendorRateLimited)
		assert.Equal(t, int32(3), calls.Load(), "initial try plus two retries")
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := testClient(t, clientSettings{maxRetries: 3})
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrVendorHTTP)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("transport failure surfaces as vendor http error", func(t *testing.T) {
		client := testClient(t, clientSettings{maxRetries: 1})
		_, err := client.Get(context.Background(), "http://127.0.0.1:1/unreachable")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrVendorHTTP)
	})

	t.Run("politeness delay between requests to one host", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}))
		defer server.Close()

		client := testClient(t, clientSettings{minDelay: 50 * time.Millisecond})
		ctx := context.Background()

		_, err := client.Get(ctx, server.URL)
		require.NoError(t, err)

		start := time.Now()
		_, err = client.Get(ctx, server.URL)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(40), "second request should wait for the politeness delay")
	})
}

func TestClientGetJSON(t *testing.T) {
	t.Run("decodes payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name":"City Council","id":42}`))
		}))
		defer server.Close()

		var out struct {
			Name string `json:"name"`
			ID   int    `json:"id"`
		}
		client := testClient(t, clientSettings{})
		require.NoError(t, client.GetJSON(context.Background(), server.URL, &out))
		assert.Equal(t, "City Council", out.Name)
		assert.Equal(t, 42, out.ID)
	})

	t.Run("invalid JSON is a parsing error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>maintenance page</html>"))
		}))
		defer server.Close()

		var out map[string]any
		client := testClient(t, clientSettings{})
		err := client.GetJSON(context.Background(), server.URL, &out)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrVendorParsing)
	})
}

func TestClientPostForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		w.Write([]byte("echo:" + r.PostForm.Get("__EVENTTARGET")))
	}))
	defer server.Close()

	client := testClient(t, clientSettings{})
	body, err := client.PostForm(context.Background(), server.URL, url.Values{"__EVENTTARGET": {"nextPage"}})
	require.NoError(t, err)
	assert.Equal(t, "echo:nextPage", string(body))
}

func TestClientDownload(t *testing.T) {
	t.Run("reports content type and final URL", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/doc.pdf", http.StatusFound)
		})
		mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.7 content"))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := testClient(t, clientSettings{})
		dl, err := client.Download(context.Background(), server.URL+"/doc")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", dl.ContentType)
		assert.Equal(t, server.URL+"/doc.pdf", dl.FinalURL)
		assert.False(t, dl.Truncated)
		assert.Equal(t, "%PDF-1.7 content", string(dl.Body))
	})

	t.Run("truncates oversized bodies", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(strings.Repeat("x", 64)))
		}))
		defer server.Close()

		client := testClient(t, clientSettings{maxDownload: 16})
		dl, err := client.Download(context.Background(), server.URL)
		require.NoError(t, err)
		assert.True(t, dl.Truncated)
		assert.Len(t, dl.Body, 16)
	})
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "delay seconds", header: "7", want: 7 * time.Second},
		{name: "absent", header: "", want: 0},
		{name: "garbage", header: "soon", want: 0},
		{name: "past http date", header: "Mon, 02 Jan 2006 15:04:05 GMT", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfter(tt.header))
		})
	}

	t.Run("future http date", func(t *testing.T) {
		header := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
		got := retryAfter(header)
		assert.Greater(t, got, 80*time.Second)
		assert.LessOrEqual(t, got, 90*time.Second)
	})
}
