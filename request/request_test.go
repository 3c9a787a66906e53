package request

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Connect-Club/connectclub-meet-common/leave"
	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) *HttpClientStruct {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	mem := storage.NewMemory()
	mem.SetString(storage.KeyAccessToken, "access-1")
	mem.SetString(storage.KeyRefreshToken, "refresh-1")
	storage.Set(mem)
	t.Cleanup(func() { storage.Set(storage.NewMemory()) })
	return New(server.URL, "linux", "1.0.0", WithOAuthClient("client", "secret"), WithHttpClient(server.Client()))
}

func TestLeaveMeeting(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/meetings/m-1/leave", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "linux meetsync/1.0.0", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `{"status":"TRANSFER_REQUIRED","candidates":[{"userId":"u-2","userName":"Ann"}]}`)
	})

	res, err := h.LeaveMeeting(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, leave.Response{
		Status:     "TRANSFER_REQUIRED",
		Candidates: []leave.Candidate{{UserId: "u-2", UserName: "Ann"}},
	}, res)
}

func TestTransferHostAndLeave_Body(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/meetings/m-1/transfer-host-and-leave", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"newHostId":"u-2"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, h.TransferHostAndLeave(context.Background(), "m-1", "u-2"))
}

func TestServerError(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"errors":["candidate_left"]}`)
	})

	err := h.TransferHostAndLeave(context.Background(), "m-1", "u-2")
	require.Error(t, err)
	assert.Equal(t, notice.KindServer, notice.KindOf(err))
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusConflict, serverErr.Code)
	assert.Equal(t, "candidate_left", serverErr.Message)
}

func TestRefreshOnUnauthorized(t *testing.T) {
	var calls int32
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v2/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "refresh-1", r.URL.Query().Get("refresh_token"))
			assert.Equal(t, "client", r.URL.Query().Get("client_id"))
			_, _ = io.WriteString(w, `{"access_token":"access-2","refresh_token":"refresh-2"}`)
		case "/v1/meetings/m-1/relay-token":
			atomic.AddInt32(&calls, 1)
			if r.Header.Get("Authorization") != "Bearer access-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"displayName":"Me"}`, string(body))
			_, _ = io.WriteString(w, `{"url":"wss://relay","token":"tok"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	cred, err := h.IssueRelayToken(context.Background(), relay.TokenRequest{MeetId: "m-1", UserId: "u-1", DisplayName: "Me"})
	require.NoError(t, err)
	assert.Equal(t, relay.Credential{Url: "wss://relay", Token: "tok"}, cred)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, "access-2", storage.Get().GetString(storage.KeyAccessToken))
	assert.Equal(t, "refresh-2", storage.Get().GetString(storage.KeyRefreshToken))
}

func TestRefreshFailureLogsOut(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v2/token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := h.Me(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, notice.KindConnection, notice.KindOf(err))
	assert.Empty(t, storage.Get().GetString(storage.KeyAccessToken))
	assert.Empty(t, storage.Get().GetString(storage.KeyRefreshToken))
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL.Path)
	})
	storage.Get().Delete(storage.KeyAccessToken)

	_, err := h.JoinMeeting(context.Background(), "board-1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorize(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "password", q.Get("grant_type"))
		assert.Equal(t, "ann", q.Get("username"))
		assert.Equal(t, "secret", q.Get("client_secret"))
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r"}`)
	})

	err := h.Authorize(context.Background(), url.Values{"grant_type": {"password"}, "username": {"ann"}})
	require.NoError(t, err)
	assert.Equal(t, "a", storage.Get().GetString(storage.KeyAccessToken))
}

func TestJoinAndCreateMeeting(t *testing.T) {
	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/boards/board-1/meetings":
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = io.WriteString(w, `{"id":"m-1","boardId":"board-1","title":"Daily","hostId":"u-1"}`)
		case "/v1/boards/board-1/meetings/join":
			_, _ = io.WriteString(w, `{"meeting":{"id":"m-1"},"self":{"userId":"u-1","userName":"Me"},"isHost":true}`)
		case "/v1/boards/board-1/meetings/active":
			_, _ = io.WriteString(w, `{"id":"m-1","status":"active"}`)
		}
	})

	meeting, err := h.CreateMeeting(context.Background(), "board-1", "Daily")
	require.NoError(t, err)
	assert.Equal(t, "Daily", meeting.Title)

	active, err := h.ActiveMeeting(context.Background(), "board-1")
	require.NoError(t, err)
	assert.Equal(t, "active", active.Status)

	joined, err := h.JoinMeeting(context.Background(), "board-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", joined.Meeting.Id)
	assert.Equal(t, "u-1", joined.Self.UserId)
	assert.True(t, joined.IsHost)
}

func TestSendLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meet.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o600))

	h := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mobile-app-log", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Log from meetsync crash", r.FormValue("body"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "line one\n", string(data))
	})

	require.NoError(t, h.SendLogFileWithPath(context.Background(), path, "crash"))
}
