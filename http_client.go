package common

import (
	"crypto/tls"
	"net/http"

	"github.com/Connect-Club/connectclub-meet-common/config"
	"github.com/Connect-Club/connectclub-meet-common/request"
	log "github.com/sirupsen/logrus"
)

func InsecureHttpTransport() {
	log.Warn("using insecure TLS client")
	http.DefaultTransport.(*http.Transport).TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
}

// HttpClient builds the meetings API client described by cfg.
func HttpClient(cfg config.Api, platform string, version string) *request.HttpClientStruct {
	return request.New(cfg.Endpoint, platform, version, request.WithOAuthClient(cfg.ClientId, cfg.ClientSecret))
}
