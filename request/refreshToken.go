package request

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/Connect-Club/connectclub-meet-common/storage"
	log "github.com/sirupsen/logrus"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

// refreshToken trades the stored refresh token for a new pair. Both tokens
// are dropped first so a failed refresh leaves the session logged out.
func (h *HttpClientStruct) refreshToken(ctx context.Context) bool {
	h.params.mu.Lock()
	h.params.refreshCountCall += 1
	h.params.mu.Unlock()

	refreshToken := storage.Get().GetString(storage.KeyRefreshToken)
	if len(refreshToken) == 0 {
		return false
	}
	query := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {h.params.clientId},
		"client_secret": {h.params.clientSecret},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.params.endpoint+"/oauth/v2/token?"+query.Encode(), nil)
	if err != nil {
		log.WithError(err).Error("cannot create refresh request")
		return false
	}
	resp, err := h.params.client.Do(req)
	if err != nil {
		log.WithError(err).Error("http request error")
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("close body error")
		}
	}()
	log.Infof("🪕 refresh response %v", resp.StatusCode)

	storage.Get().Delete(storage.KeyAccessToken)
	storage.Get().Delete(storage.KeyRefreshToken)

	if !success(resp) {
		return false
	}
	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		log.WithError(err).Error("unmarshal refresh response error")
		return false
	}
	return storeTokens(tokens)
}

func storeTokens(tokens tokenResponse) bool {
	if len(tokens.Error) > 0 || len(tokens.AccessToken) == 0 || len(tokens.RefreshToken) == 0 {
		return false
	}
	storage.Get().SetString(storage.KeyAccessToken, tokens.AccessToken)
	storage.Get().SetString(storage.KeyRefreshToken, tokens.RefreshToken)
	log.Info("🪕 tokens updated")
	return true
}
