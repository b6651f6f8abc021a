package gzippedhttp

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestGzipResponse(t *testing.T) {
	type tTestCase struct {
		name             string
		acceptEncoding   string
		status           int
		body             string
		expectCompressed bool
	}
	testCases := []tTestCase{
		{name: "ok with gzip", acceptEncoding: "gzip, deflate", status: http.StatusOK, body: `{"ok":true}`, expectCompressed: true},
		{name: "created with gzip", acceptEncoding: "gzip", status: http.StatusCreated, body: `{"id":"1"}`, expectCompressed: true},
		{name: "ok without gzip", acceptEncoding: "", status: http.StatusOK, body: `{"ok":true}`, expectCompressed: false},
		{name: "not found with gzip", acceptEncoding: "gzip", status: http.StatusNotFound, body: `{"error":"not found"}`, expectCompressed: false},
		{name: "no content with gzip", acceptEncoding: "gzip", status: http.StatusNoContent, body: "", expectCompressed: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			handler := GzipResponse(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if testCase.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", testCase.acceptEncoding)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, testCase.status, rec.Code)
			assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

			if !testCase.expectCompressed {
				assert.Empty(t, rec.Header().Get("Content-Encoding"))
				assert.Equal(t, testCase.body, rec.Body.String())
				return
			}

			assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
			zr, err := gzip.NewReader(rec.Body)
			require.NoError(t, err)
			decoded, err := io.ReadAll(zr)
			require.NoError(t, err)
			assert.Equal(t, testCase.body, string(decoded))
		})
	}
}

func TestGzipResponseImplicitStatus(t *testing.T) {
	handler := GzipResponse(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestUngzipRequest(t *testing.T) {
	echo := UngzipRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(body)
	}))

	type tTestCase struct {
		name            string
		contentEncoding string
		body            []byte
		expectedCode    int
		expectedBody    string
	}
	testCases := []tTestCase{
		{
			name:            "gzipped body",
			contentEncoding: "gzip",
			body:            gzipBytes(t, `{"title":"Buy milk"}`),
			expectedCode:    http.StatusOK,
			expectedBody:    `{"title":"Buy milk"}`,
		},
		{
			name:         "plain body",
			body:         []byte(`{"title":"Buy milk"}`),
			expectedCode: http.StatusOK,
			expectedBody: `{"title":"Buy milk"}`,
		},
		{
			name:            "corrupt gzip",
			contentEncoding: "gzip",
			body:            []byte("definitely not gzip"),
			expectedCode:    http.StatusBadRequest,
			expectedBody:    `{"error":"invalid gzip body"}`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(testCase.body))
			if testCase.contentEncoding != "" {
				req.Header.Set("Content-Encoding", testCase.contentEncoding)
			}
			rec := httptest.NewRecorder()
			echo.ServeHTTP(rec, req)

			assert.Equal(t, testCase.expectedCode, rec.Code)
			assert.Equal(t, testCase.expectedBody, strings.TrimSpace(rec.Body.String()))
		})
	}
}
