package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	jwt_generator "github.com/Connect-Club/connectclub-jwt-generator"
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/storage"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrLoggedOut    = errors.New("logged out")
)

// ServerError is a non-2xx answer of the API.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

type requestParams struct {
	endpoint           string
	method             string
	useAuthorizeHeader bool
	generateJwt        bool
	query              url.Values
	body               interface{}
	contentType        string
	rawBody            io.Reader
}

// makeRequest performs the call and decodes a 2xx body into out. A 401
// triggers one token refresh and a retry.
func (h *HttpClientStruct) makeRequest(ctx context.Context, params requestParams, out interface{}) error {
	err := h.doRequest(ctx, params, out)
	if !errors.Is(err, errRetryAfterRefresh) {
		return err
	}
	return h.doRequest(ctx, params, out)
}

var errRetryAfterRefresh = errors.New("retry after refresh")

func (h *HttpClientStruct) doRequest(ctx context.Context, params requestParams, out interface{}) error {
	op := params.method + " " + params.endpoint
	accessToken := storage.Get().GetString(storage.KeyAccessToken)
	if h.refreshCount() > maxRefreshCalls {
		return notice.New(notice.KindConnection, op, ErrLoggedOut)
	}
	if len(accessToken) == 0 && params.useAuthorizeHeader && !params.generateJwt {
		return notice.New(notice.KindConnection, op, ErrUnauthorized)
	}

	parsedUrl, err := url.Parse(h.params.endpoint + params.endpoint)
	if err != nil {
		return fmt.Errorf("cannot parse url: %w", err)
	}
	if len(params.query) > 0 {
		parsedUrl.RawQuery = params.query.Encode()
	}

	var body io.Reader
	contentType := "application/json"
	if params.rawBody != nil {
		body = params.rawBody
		contentType = params.contentType
	} else if params.body != nil {
		data, err := json.Marshal(params.body)
		if err != nil {
			return fmt.Errorf("cannot marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, params.method, parsedUrl.String(), body)
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", h.params.userAgent)
	switch {
	case params.useAuthorizeHeader && len(accessToken) > 0:
		req.Header.Set("Authorization", "Bearer "+accessToken)
	case params.generateJwt:
		req.Header.Set("Authorization", "Bearer "+jwt_generator.GenerateJwt())
	}

	log.WithField("url", parsedUrl.String()).Infof("🪕 %v", params.method)
	res, err := h.params.client.Do(req)
	if err != nil {
		return notice.Wrap(notice.KindConnection, op, "cannot do request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		if err := res.Body.Close(); err != nil {
			log.WithError(err).Warn("close body error")
		}
	}()
	log.Infof("🪕 response code=%v %v", res.StatusCode, op)

	if res.StatusCode == http.StatusUnauthorized && params.useAuthorizeHeader && len(accessToken) > 0 {
		if !h.refreshToken(ctx) {
			return notice.New(notice.KindConnection, op, ErrUnauthorized)
		}
		return errRetryAfterRefresh
	}

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		return notice.Wrap(notice.KindConnection, op, "cannot read body: %w", err)
	}
	if !success(res) {
		return notice.New(notice.KindServer, op, &ServerError{Code: res.StatusCode, Message: errorMessage(responseBody)})
	}
	h.resetRefreshCount()
	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return notice.Wrap(notice.KindParse, op, "cannot unmarshal response: %w", err)
	}
	return nil
}

// errorMessage extracts the first entry of {"errors": [...]} or "error".
func errorMessage(body []byte) string {
	var payload struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "serverError"
	}
	if len(payload.Errors) > 0 {
		return payload.Errors[0]
	}
	if len(payload.Error) > 0 {
		return payload.Error
	}
	return "serverError"
}

func success(r *http.Response) bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

func (h *HttpClientStruct) refreshCount() int {
	h.params.mu.Lock()
	defer h.params.mu.Unlock()
	return h.params.refreshCountCall
}

func (h *HttpClientStruct) resetRefreshCount() {
	h.params.mu.Lock()
	defer h.params.mu.Unlock()
	h.params.refreshCountCall = 0
}
