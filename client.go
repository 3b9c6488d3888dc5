package megafon

import (
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// AppProfile bundles a TLS client profile with the headers the mobile app sends.
type AppProfile struct {
	TLSProfile profiles.ClientProfile
	UserAgent  string
}

// DefaultProfile is the profile used for new portal clients.
// Set to IOSAppProfile in tls_mlkapp.go.
var DefaultProfile = IOSAppProfile

// NewClient creates a cookie-persisting HTTP client for the portal.
// proxyURL may be empty for a direct connection.
func NewClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, DefaultProfile.TLSProfile)
}

func NewClientWithProfile(logger tls_client.Logger, proxyURL string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profile),
		tls_client.WithCookieJar(jar),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
