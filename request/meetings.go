package request

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Connect-Club/connectclub-meet-common/leave"
	"github.com/Connect-Club/connectclub-meet-common/relay"
	"github.com/Connect-Club/connectclub-meet-common/store"
)

type Meeting struct {
	Id        string    `json:"id"`
	BoardId   string    `json:"boardId"`
	Title     string    `json:"title"`
	HostId    string    `json:"hostId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Joined is the answer to a join request.
type Joined struct {
	Meeting Meeting        `json:"meeting"`
	Self    store.Identity `json:"self"`
	IsHost  bool           `json:"isHost"`
}

type relayTokenRequest struct {
	DisplayName string `json:"displayName"`
}

type transferRequest struct {
	NewHostId string `json:"newHostId"`
}

type createRequest struct {
	Title string `json:"title,omitempty"`
}

func boardPath(boardId string, tail string) string {
	return fmt.Sprintf("/v1/boards/%s/meetings%s", url.PathEscape(boardId), tail)
}

func meetPath(meetId string, tail string) string {
	return fmt.Sprintf("/v1/meetings/%s%s", url.PathEscape(meetId), tail)
}

// Me returns the identity behind the stored access token.
func (h *HttpClientStruct) Me(ctx context.Context) (store.Identity, error) {
	var identity store.Identity
	err := h.makeRequest(ctx, requestParams{
		endpoint:           "/v1/account/me",
		method:             http.MethodGet,
		useAuthorizeHeader: true,
	}, &identity)
	return identity, err
}

func (h *HttpClientStruct) CreateMeeting(ctx context.Context, boardId, title string) (Meeting, error) {
	var meeting Meeting
	err := h.makeRequest(ctx, requestParams{
		endpoint:           boardPath(boardId, ""),
		method:             http.MethodPost,
		useAuthorizeHeader: true,
		body:               createRequest{Title: title},
	}, &meeting)
	return meeting, err
}

// ActiveMeeting fetches the meeting currently running on a board.
func (h *HttpClientStruct) ActiveMeeting(ctx context.Context, boardId string) (Meeting, error) {
	var meeting Meeting
	err := h.makeRequest(ctx, requestParams{
		endpoint:           boardPath(boardId, "/active"),
		method:             http.MethodGet,
		useAuthorizeHeader: true,
	}, &meeting)
	return meeting, err
}

func (h *HttpClientStruct) JoinMeeting(ctx context.Context, boardId string) (Joined, error) {
	var joined Joined
	err := h.makeRequest(ctx, requestParams{
		endpoint:           boardPath(boardId, "/join"),
		method:             http.MethodPost,
		useAuthorizeHeader: true,
	}, &joined)
	return joined, err
}

func (h *HttpClientStruct) LeaveMeeting(ctx context.Context, meetId string) (leave.Response, error) {
	var res leave.Response
	err := h.makeRequest(ctx, requestParams{
		endpoint:           meetPath(meetId, "/leave"),
		method:             http.MethodPost,
		useAuthorizeHeader: true,
	}, &res)
	return res, err
}

func (h *HttpClientStruct) TransferHostAndLeave(ctx context.Context, meetId, candidateId string) error {
	return h.makeRequest(ctx, requestParams{
		endpoint:           meetPath(meetId, "/transfer-host-and-leave"),
		method:             http.MethodPost,
		useAuthorizeHeader: true,
		body:               transferRequest{NewHostId: candidateId},
	}, nil)
}

// IssueRelayToken asks the API for a relay credential scoped to one meeting.
// Without a user session the call is signed with a service jwt.
func (h *HttpClientStruct) IssueRelayToken(ctx context.Context, req relay.TokenRequest) (relay.Credential, error) {
	var credential relay.Credential
	err := h.makeRequest(ctx, requestParams{
		endpoint:           meetPath(req.MeetId, "/relay-token"),
		method:             http.MethodPost,
		useAuthorizeHeader: true,
		generateJwt:        true,
		body:               relayTokenRequest{DisplayName: req.DisplayName},
	}, &credential)
	return credential, err
}

var (
	_ leave.API         = (*HttpClientStruct)(nil)
	_ relay.TokenIssuer = (*HttpClientStruct)(nil)
)
