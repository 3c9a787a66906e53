package relay

import (
	"context"
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

const DefaultTokenValidity = 10 * time.Minute

// DevTokenIssuer signs relay credentials locally with the relay's api key.
// It stands in for the credential service in development setups.
type DevTokenIssuer struct {
	Url       string
	ApiKey    string
	ApiSecret string
	ValidFor  time.Duration
}

func (i *DevTokenIssuer) IssueRelayToken(_ context.Context, req TokenRequest) (Credential, error) {
	if len(i.ApiKey) == 0 || len(i.ApiSecret) == 0 {
		return Credential{}, errors.New("relay api key and secret are required")
	}
	if len(req.UserId) == 0 {
		return Credential{}, errors.New("relay identity is required")
	}
	validFor := i.ValidFor
	if validFor == 0 {
		validFor = DefaultTokenValidity
	}
	at := auth.NewAccessToken(i.ApiKey, i.ApiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     req.MeetId,
	}).
		SetIdentity(req.UserId).
		SetName(req.DisplayName).
		SetValidFor(validFor)
	token, err := at.ToJWT()
	if err != nil {
		return Credential{}, err
	}
	return Credential{Url: i.Url, Token: token}, nil
}
