package utils

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sigweihq/solwallet/pkg/constants"
)

// Transport timeouts for RPC HTTP clients
const (
	TLSHandshakeTimeout   = 10 * time.Second
	ResponseHeaderTimeout = 10 * time.Second
	ExpectContinueTimeout = 1 * time.Second
)

// NewHTTPClient creates an HTTP client for RPC calls. Redirects are not
// followed. A zero timeout uses the default RPC request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = constants.RPCRequestTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			ExpectContinueTimeout: ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateEndpointURL validates that an RPC endpoint URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1 for local validators)
func ValidateEndpointURL(url string) error {
	if !strings.HasPrefix(url, "https://") {
		// Allow http://localhost and http://127.0.0.1 for local validators
		if strings.HasPrefix(url, "http://localhost") ||
			strings.HasPrefix(url, "http://127.0.0.1") ||
			strings.HasPrefix(url, "http://[::1]") {
			return nil
		}
		return fmt.Errorf("RPC endpoint URL must use HTTPS: %s", url)
	}
	return nil
}

// EndpointForCluster returns the first official RPC endpoint of a cluster
func EndpointForCluster(cluster string) (string, error) {
	endpoints, ok := constants.OfficialRPCEndpoints[cluster]
	if !ok || len(endpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoint configured for cluster %s", cluster)
	}
	return endpoints[0], nil
}
