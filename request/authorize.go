package request

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Connect-Club/connectclub-meet-common/notice"
)

// Authorize runs an OAuth token grant. grant carries the grant type and its
// fields; client credentials are added here.
func (h *HttpClientStruct) Authorize(ctx context.Context, grant url.Values) error {
	query := url.Values{
		"client_id":     {h.params.clientId},
		"client_secret": {h.params.clientSecret},
	}
	for k, v := range grant {
		query[k] = v
	}
	var tokens tokenResponse
	err := h.makeRequest(ctx, requestParams{
		endpoint: "/oauth/v2/token",
		method:   http.MethodGet,
		query:    query,
	}, &tokens)
	if err != nil {
		return err
	}
	if !storeTokens(tokens) {
		return notice.New(notice.KindConnection, "authorize", ErrUnauthorized)
	}
	h.resetRefreshCount()
	return nil
}
