// Package ipchecker restricts internal endpoints to clients from a trusted
// subnet given in CIDR notation.
package ipchecker

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
)

// IPChecker matches client addresses against the trusted subnet.
// Without a subnet every client is rejected.
type IPChecker struct {
	trustedSubnet *net.IPNet
}

// New parses trustedSubnet ("10.0.0.0/8"). An empty string disables access.
func New(trustedSubnet string) (*IPChecker, error) {
	if trustedSubnet == "" {
		return &IPChecker{}, nil
	}

	_, allowedNet, err := net.ParseCIDR(trustedSubnet)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/New(): error while `net.ParseCIDR()` calling: %w", err)
	}

	return &IPChecker{
		trustedSubnet: allowedNet,
	}, nil
}

// Check reports whether clientIP belongs to the trusted subnet.
func (checker *IPChecker) Check(clientIP net.IP) bool {
	return checker.trustedSubnet != nil && clientIP != nil && checker.trustedSubnet.Contains(clientIP)
}

// IsTrustedSubnetEmpty reports whether no subnet was configured.
func (checker *IPChecker) IsTrustedSubnetEmpty() bool {
	return checker.trustedSubnet == nil
}

// GetClientIP takes the address from X-Real-IP, then the first entry of
// X-Forwarded-For, then RemoteAddr.
func (checker *IPChecker) GetClientIP(request *http.Request) (net.IP, error) {
	if ip := net.ParseIP(strings.TrimSpace(request.Header.Get("X-Real-IP"))); ip != nil {
		return ip, nil
	}

	if xff := request.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip, nil
		}
	}

	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/GetClientIP(): error while `net.SplitHostPort()` calling: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("in internal/ipchecker/ipchecker.go/GetClientIP(): unparsable remote address %q", host)
	}

	return ip, nil
}

// TrustedSubnetOnly answers 403 to every request whose client address is
// outside the trusted subnet.
func (checker *IPChecker) TrustedSubnetOnly(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if checker.IsTrustedSubnetEmpty() {
			writeForbidden(response)
			return
		}

		clientIP, err := checker.GetClientIP(request)
		if err != nil {
			logger.Log.Debugln("Error calling the `checker.GetClientIP()`: ", zap.Error(err))
			writeForbidden(response)
			return
		}

		if !checker.Check(clientIP) {
			writeForbidden(response)
			return
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

func writeForbidden(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusForbidden)
	_, _ = response.Write([]byte(`{"error":"forbidden"}` + "\n"))
}
