package dto

import (
	"time"

	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

type PeriodResponse struct {
	Period      string `json:"period"`
	TimeString  string `json:"time_string"`
	TotalScore  uint32 `json:"total_score"`
	ExecutedPRs uint32 `json:"executed_prs"`
	PRsOpened   uint32 `json:"prs_opened"`
	PRsMerged   uint32 `json:"prs_merged"`
}

type StreakResponse struct {
	ID     int64  `json:"id,string"`
	Name   string `json:"name"`
	Period string `json:"period"`
	Amount uint32 `json:"amount"`
	Best   uint32 `json:"best"`
	Latest string `json:"latest_time_string,omitempty"`
}

type UserResponse struct {
	Handle  string           `json:"handle"`
	Periods []PeriodResponse `json:"periods"`
	Streaks []StreakResponse `json:"streaks"`
}

func ToUserResponse(v ledger.UserView) *UserResponse {
	resp := &UserResponse{
		Handle:  v.Handle,
		Periods: make([]PeriodResponse, 0, len(v.Periods)),
		Streaks: make([]StreakResponse, 0, len(v.Streaks)),
	}
	for _, p := range v.Periods {
		resp.Periods = append(resp.Periods, PeriodResponse{
			Period:      string(p.Period),
			TimeString:  p.TimeString,
			TotalScore:  p.Data.TotalScore,
			ExecutedPRs: p.Data.ExecutedPRs,
			PRsOpened:   p.Data.PRsOpened,
			PRsMerged:   p.Data.PRsMerged,
		})
	}
	for _, s := range v.Streaks {
		resp.Streaks = append(resp.Streaks, StreakResponse{
			ID:     s.Streak.ID,
			Name:   s.Streak.Name,
			Period: string(s.Streak.Period),
			Amount: s.Progress.Amount,
			Best:   s.Progress.Best,
			Latest: s.Progress.LatestTimeString,
		})
	}
	return resp
}

type ContributionsQuery struct {
	Page  int `form:"page" binding:"omitempty,min=0"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

type ContributionResponse struct {
	ID        string     `json:"id"`
	Org       string     `json:"org"`
	Repo      string     `json:"repo"`
	Number    int        `json:"number"`
	State     string     `json:"state"`
	Score     uint32     `json:"score"`
	StartedAt time.Time  `json:"started_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

type ContributionsResponse struct {
	Handle string                 `json:"handle"`
	Page   int                    `json:"page"`
	Limit  int                    `json:"limit"`
	Items  []ContributionResponse `json:"items"`
}

func ToContributionResponse(r ledger.PRRecord) ContributionResponse {
	return ContributionResponse{
		ID:        r.FullID(),
		Org:       r.Org,
		Repo:      r.Repo,
		Number:    r.Number,
		State:     string(r.State()),
		Score:     r.Score(),
		StartedAt: r.StartedAt,
		MergedAt:  r.MergedAt,
	}
}
