package ipchecker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	checker, err := New("")
	require.NoError(t, err)
	assert.True(t, checker.IsTrustedSubnetEmpty())
	assert.False(t, checker.Check(net.ParseIP("127.0.0.1")))

	_, err = New("not-a-cidr")
	assert.Error(t, err)
}

func TestGetClientIP(t *testing.T) {
	checker, err := New("10.0.0.0/8")
	require.NoError(t, err)

	type tTestCase struct {
		name       string
		realIP     string
		forwarded  string
		remoteAddr string
		expected   string
	}
	testCases := []tTestCase{
		{name: "real ip header wins", realIP: "10.1.1.1", forwarded: "192.168.0.1", remoteAddr: "1.1.1.1:1234", expected: "10.1.1.1"},
		{name: "first forwarded entry", forwarded: "10.2.2.2, 192.168.0.1", remoteAddr: "1.1.1.1:1234", expected: "10.2.2.2"},
		{name: "unparsable forwarded falls back", forwarded: "garbage", remoteAddr: "1.1.1.1:1234", expected: "1.1.1.1"},
		{name: "remote address", remoteAddr: "10.3.3.3:5555", expected: "10.3.3.3"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
			req.RemoteAddr = testCase.remoteAddr
			if testCase.realIP != "" {
				req.Header.Set("X-Real-IP", testCase.realIP)
			}
			if testCase.forwarded != "" {
				req.Header.Set("X-Forwarded-For", testCase.forwarded)
			}

			ip, err := checker.GetClientIP(req)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, ip.String())
		})
	}
}

func TestTrustedSubnetOnly(t *testing.T) {
	type tTestCase struct {
		name         string
		subnet       string
		realIP       string
		expectedCode int
	}
	testCases := []tTestCase{
		{name: "inside subnet", subnet: "10.0.0.0/8", realIP: "10.0.0.5", expectedCode: http.StatusOK},
		{name: "outside subnet", subnet: "10.0.0.0/8", realIP: "192.168.1.1", expectedCode: http.StatusForbidden},
		{name: "no subnet configured", subnet: "", realIP: "10.0.0.5", expectedCode: http.StatusForbidden},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			checker, err := New(testCase.subnet)
			require.NoError(t, err)

			handler := checker.TrustedSubnetOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/internal/stats", nil)
			req.Header.Set("X-Real-IP", testCase.realIP)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, testCase.expectedCode, rec.Code)
		})
	}
}
