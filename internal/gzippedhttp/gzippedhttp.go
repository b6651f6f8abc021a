// Package gzippedhttp provides middlewares that decode gzip-compressed request
// bodies and gzip-compress successful responses for clients that accept it.
package gzippedhttp

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
)

// CompressedReader wraps an io.ReadCloser and decompresses its input using gzip.
type CompressedReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

// NewCompressedReader returns a CompressedReader over requestBody.
// It fails when the body does not start with a valid gzip header.
func NewCompressedReader(requestBody io.ReadCloser) (*CompressedReader, error) {
	zr, err := gzip.NewReader(requestBody)
	if err != nil {
		return nil, err
	}

	return &CompressedReader{
		r:  requestBody,
		zr: zr,
	}, nil
}

func (c *CompressedReader) Read(p []byte) (n int, err error) {
	return c.zr.Read(p)
}

// Close closes both the gzip reader and the underlying body.
func (c *CompressedReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}

// compressedResponseWriter decides on the first WriteHeader/Write whether the
// body is compressed. Only 2xx responses with a body are; errors, redirects
// and 204s pass through untouched.
type compressedResponseWriter struct {
	http.ResponseWriter
	zw          *gzip.Writer
	wroteHeader bool
}

func (c *compressedResponseWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true

	header := c.Header()
	compressible := statusCode >= 200 &&
		statusCode < 300 &&
		statusCode != http.StatusNoContent &&
		header.Get("Content-Encoding") == ""
	if compressible {
		header.Set("Content-Encoding", "gzip")
		header.Del("Content-Length")
		c.zw = gzipWriterPool.Get().(*gzip.Writer)
		c.zw.Reset(c.ResponseWriter)
	}

	c.ResponseWriter.WriteHeader(statusCode)
}

func (c *compressedResponseWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if c.zw == nil {
		return c.ResponseWriter.Write(p)
	}
	return c.zw.Write(p)
}

func (c *compressedResponseWriter) close() error {
	if c.zw == nil {
		return nil
	}

	err := c.zw.Close()
	gzipWriterPool.Put(c.zw)
	c.zw = nil

	return err
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// GzipResponse compresses successful responses when the request's
// Accept-Encoding allows gzip.
func GzipResponse(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		response.Header().Add("Vary", "Accept-Encoding")

		if !strings.Contains(request.Header.Get("Accept-Encoding"), "gzip") {
			h.ServeHTTP(response, request)
			return
		}

		cw := &compressedResponseWriter{ResponseWriter: response}
		defer func() {
			if err := cw.close(); err != nil {
				logger.Log.Debugln("Error calling the `cw.close()`: ", zap.Error(err))
			}
		}()

		h.ServeHTTP(cw, request)
	}

	return http.HandlerFunc(middleware)
}

// UngzipRequest replaces a gzip-encoded request body with a decompressing
// reader. A body that is not valid gzip is rejected with 400.
func UngzipRequest(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if !strings.Contains(request.Header.Get("Content-Encoding"), "gzip") {
			h.ServeHTTP(response, request)
			return
		}

		body, err := NewCompressedReader(request.Body)
		if err != nil {
			logger.Log.Debugln("Error calling the `NewCompressedReader()`: ", zap.Error(err))
			response.Header().Set("Content-Type", "application/json")
			response.WriteHeader(http.StatusBadRequest)
			_, _ = response.Write([]byte(`{"error":"invalid gzip body"}` + "\n"))
			return
		}
		defer body.Close()

		request.Body = body
		request.Header.Del("Content-Encoding")
		request.ContentLength = -1

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}
