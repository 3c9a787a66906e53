// Package leave negotiates how the current user departs a meeting.
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/Connect-Club/connectclub-meet-common/notice"
	"github.com/Connect-Club/connectclub-meet-common/store"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomeLeft             Outcome = "LEFT"
	OutcomeEnded            Outcome = "ENDED"
	OutcomeTransferRequired Outcome = "TRANSFER_REQUIRED"
)

var ErrUnknownOutcome = errors.New("unknown leave outcome")

type Candidate struct {
	UserId          string `json:"userId"`
	UserName        string `json:"userName"`
	ProfileImageUrl string `json:"profileImageUrl,omitempty"`
}

// Response is the raw server answer to a leave request.
type Response struct {
	Status     string      `json:"status"`
	Candidates []Candidate `json:"candidates"`
}

type API interface {
	LeaveMeeting(ctx context.Context, meetId string) (Response, error)
	TransferHostAndLeave(ctx context.Context, meetId, candidateId string) error
}

// Result is the interpreted outcome. Candidates is only set for
// OutcomeTransferRequired and never contains the current user.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Departed reports whether the user is out of the meeting.
func (r Result) Departed() bool {
	return r.Outcome != OutcomeTransferRequired
}

type Protocol struct {
	api   API
	store *store.Store
}

func New(api API, s *store.Store) *Protocol {
	return &Protocol{api: api, store: s}
}

// Leave issues one leave request. TRANSFER_REQUIRED with no usable
// candidate degrades to OutcomeEnded.
func (p *Protocol) Leave(ctx context.Context) (Result, error) {
	meetId := p.store.MeetId()
	res, err := p.api.LeaveMeeting(ctx, meetId)
	if err != nil {
		var typed *notice.Error
		if errors.As(err, &typed) {
			return Result{}, err
		}
		return Result{}, notice.Wrap(notice.KindServer, "leave", "leave request failed: %w", err)
	}
	switch Outcome(res.Status) {
	case OutcomeLeft:
		return Result{Outcome: OutcomeLeft}, nil
	case OutcomeEnded:
		return Result{Outcome: OutcomeEnded}, nil
	case OutcomeTransferRequired:
		candidates := p.filter(res.Candidates)
		if len(candidates) == 0 {
			log.WithField("meetId", meetId).Info("transfer required without candidates, treating as ended")
			return Result{Outcome: OutcomeEnded}, nil
		}
		return Result{Outcome: OutcomeTransferRequired, Candidates: candidates}, nil
	default:
		return Result{}, notice.New(notice.KindParse, "leave", fmt.Errorf("%w: %q", ErrUnknownOutcome, res.Status))
	}
}

func (p *Protocol) filter(candidates []Candidate) []Candidate {
	selfId := p.store.Self().UserId
	valid := lo.Filter(candidates, func(c Candidate, _ int) bool {
		return len(c.UserId) > 0 && c.UserId != selfId
	})
	return lo.UniqBy(valid, func(c Candidate) string {
		return c.UserId
	})
}

// TransferHostAndLeave hands the host role to candidateId and departs. On
// failure the user stays in the meeting and may retry.
func (p *Protocol) TransferHostAndLeave(ctx context.Context, candidateId string) error {
	if len(candidateId) == 0 {
		return notice.ErrNoCandidates
	}
	if candidateId == p.store.Self().UserId {
		return notice.ErrSelfTransfer
	}
	if err := p.api.TransferHostAndLeave(ctx, p.store.MeetId(), candidateId); err != nil {
		var typed *notice.Error
		if errors.As(err, &typed) {
			return err
		}
		return notice.Wrap(notice.KindServer, "transfer host", "transfer request failed: %w", err)
	}
	log.WithField("candidateId", candidateId).Info("host transferred")
	return nil
}
