// Package request is the client of the meetings REST API.
package request

import (
	"fmt"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRefreshCalls bounds consecutive token refreshes before the session is
// treated as logged out.
const maxRefreshCalls = 10

type Params struct {
	userAgent    string
	endpoint     string
	clientId     string
	clientSecret string
	client       *http.Client

	mu               sync.Mutex
	refreshCountCall int
}

type HttpClientStruct struct {
	params *Params
}

type Option func(*Params)

// WithOAuthClient sets the OAuth client credentials used for authorize and
// refresh calls.
func WithOAuthClient(id, secret string) Option {
	return func(p *Params) {
		p.clientId = id
		p.clientSecret = secret
	}
}

func WithHttpClient(client *http.Client) Option {
	return func(p *Params) {
		p.client = client
	}
}

func New(endpoint, platform, version string, opts ...Option) *HttpClientStruct {
	log.Infof("++ %v %v %v", endpoint, platform, version)
	p := &Params{
		userAgent: fmt.Sprintf("%s meetsync/%s", platform, version),
		endpoint:  endpoint,
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return &HttpClientStruct{params: p}
}

func (h *HttpClientStruct) Endpoint() string {
	return h.params.endpoint
}
