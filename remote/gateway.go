package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

const tournamentQuery = `
query TournamentState($slug: String!) {
  tournament(slug: $slug) {
    id
    name
    state
    events { id name state }
  }
}`

const eventSetsQuery = `
query EventSets($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    sets(page: $page, perPage: $perPage) {
      pageInfo { totalPages }
      nodes {
        id
        round
        state
        slots { entrantId name }
        winnerEntrantId
        displayScore
      }
    }
  }
}`

const eventEntrantsQuery = `
query EventEntrants($eventId: ID!, $page: Int!, $perPage: Int!) {
  event(id: $eventId) {
    entrants(page: $page, perPage: $perPage) {
      pageInfo { totalPages }
      nodes {
        id
        name
        disqualified
        participants { remoteUserId gamerTag }
      }
    }
  }
}`

const reportSetMutation = `
mutation ReportSet($setId: ID!, $winnerEntrantId: ID!, $displayScore: String) {
  reportSet(setId: $setId, winnerEntrantId: $winnerEntrantId, displayScore: $displayScore) {
    id
    state
  }
}`

var (
	opTournament    = Operation{Name: "TournamentState", Document: tournamentQuery}
	opEventSets     = Operation{Name: "EventSets", Document: eventSetsQuery}
	opEventEntrants = Operation{Name: "EventEntrants", Document: eventEntrantsQuery}
	opReportSet     = Operation{Name: "ReportSet", Document: reportSetMutation, Invalidates: []string{"EventSets"}}
)

// Gateway exposes typed remote operations over the Client, driving pagination
// loops off the reported total-page count, bounded by maxPages as a safety
// valve against a misbehaving remote API.
type Gateway struct {
	client   *Client
	pageSize int
	maxPages int
}

func NewGateway(client *Client, pageSize, maxPages int) *Gateway {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Gateway{client: client, pageSize: pageSize, maxPages: maxPages}
}

func (g *Gateway) GetTournament(ctx context.Context, token, slug string) (*Tournament, error) {
	data, err := g.client.Query(ctx, token, opTournament, map[string]any{"slug": slug})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tournament *Tournament `json:"tournament"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode tournament payload: %w", err)
	}
	if payload.Tournament == nil {
		return nil, fmt.Errorf("tournament %q: %w", slug, ErrNotFound)
	}
	return payload.Tournament, nil
}

func (g *Gateway) ListEventSets(ctx context.Context, token string, remoteEventID int64) ([]Set, error) {
	var sets []Set
	totalPages := 1
	for page := 1; page <= totalPages && page <= g.maxPages; page++ {
		data, err := g.client.Query(ctx, token, opEventSets, map[string]any{
			"eventId": remoteEventID,
			"page":    page,
			"perPage": g.pageSize,
		})
		if err != nil {
			return nil, err
		}
		var payload struct {
			Event *struct {
				Sets struct {
					PageInfo pageInfo `json:"pageInfo"`
					Nodes    []Set    `json:"nodes"`
				} `json:"sets"`
			} `json:"event"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode sets payload for event %d: %w", remoteEventID, err)
		}
		if payload.Event == nil {
			return nil, fmt.Errorf("event %d: %w", remoteEventID, ErrNotFound)
		}
		sets = append(sets, payload.Event.Sets.Nodes...)
		totalPages = payload.Event.Sets.PageInfo.TotalPages
	}
	return sets, nil
}

func (g *Gateway) ListEventEntrants(ctx context.Context, token string, remoteEventID int64) ([]Entrant, error) {
	var entrants []Entrant
	totalPages := 1
	for page := 1; page <= totalPages && page <= g.maxPages; page++ {
		data, err := g.client.Query(ctx, token, opEventEntrants, map[string]any{
			"eventId": remoteEventID,
			"page":    page,
			"perPage": g.pageSize,
		})
		if err != nil {
			return nil, err
		}
		var payload struct {
			Event *struct {
				Entrants struct {
					PageInfo pageInfo  `json:"pageInfo"`
					Nodes    []Entrant `json:"nodes"`
				} `json:"entrants"`
			} `json:"event"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode entrants payload for event %d: %w", remoteEventID, err)
		}
		if payload.Event == nil {
			return nil, fmt.Errorf("event %d: %w", remoteEventID, ErrNotFound)
		}
		entrants = append(entrants, payload.Event.Entrants.Nodes...)
		totalPages = payload.Event.Entrants.PageInfo.TotalPages
	}
	return entrants, nil
}

func (g *Gateway) ReportSetResult(ctx context.Context, token, remoteSetID string, winnerEntrantID int64, displayScore *string) error {
	_, err := g.client.Mutate(ctx, token, opReportSet, map[string]any{
		"setId":           remoteSetID,
		"winnerEntrantId": winnerEntrantID,
		"displayScore":    displayScore,
	})
	return err
}
