package netx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	payload := "hello, s3"

	t.Run("success", func(t *testing.T) {
		var gotBody, gotCT, gotMethod string
		var gotLen int64

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotLen = r.ContentLength
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := Upload(context.Background(), ts.Client(), "", ts.URL+"/k?X-Amz-Signature=abc", strings.NewReader(payload), int64(len(payload)), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "text/plain", gotCT)
		assert.Equal(t, int64(len(payload)), gotLen)
		assert.Equal(t, payload, gotBody)
	})

	t.Run("non-2xx", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		}))
		defer ts.Close()

		err := Upload(context.Background(), nil, http.MethodPut, ts.URL, strings.NewReader(payload), -1, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload failed: 403")
		assert.Contains(t, err.Error(), "denied")
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := Upload(context.Background(), nil, "", ts.URL, strings.NewReader(payload), -1, "")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "upload failed")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Upload(ctx, nil, "", "http://127.0.0.1:1/x", strings.NewReader(payload), -1, "")
		require.ErrorIs(t, err, context.Canceled)
	})
}
