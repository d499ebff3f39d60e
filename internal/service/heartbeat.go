package service

import (
	"fmt"
	"time"

	"odds-oracle/internal/fetcher"
)

// Phase describes where a game is relative to now.
type Phase string

const (
	PhaseUpcoming   Phase = "upcoming"
	PhaseImminent   Phase = "imminent"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

// GameStatus is one line of the heartbeat.
type GameStatus struct {
	GameID    string        `json:"game_id"`
	Game      string        `json:"game"`
	StartTime time.Time     `json:"start_time"`
	Phase     Phase         `json:"phase"`
	Until     time.Duration `json:"until_start"`
}

// Heartbeat summarises the day's games at one point in time.
type Heartbeat struct {
	At    time.Time    `json:"at"`
	Date  string       `json:"date"`
	State string       `json:"state"`
	Games []GameStatus `json:"games"`
}

// Classify places a game start relative to now. Games are assumed to last
// inProgress after the first pitch.
func Classify(start, now time.Time, window, inProgress time.Duration) Phase {
	until := start.Sub(now)
	switch {
	case until > window:
		return PhaseUpcoming
	case until > 0:
		return PhaseImminent
	case until > -inProgress:
		return PhaseInProgress
	default:
		return PhaseCompleted
	}
}

func buildHeartbeat(games []fetcher.ScheduledGame, now time.Time, window, inProgress time.Duration, state State) Heartbeat {
	hb := Heartbeat{
		At:    now,
		Date:  now.Format(time.DateOnly),
		State: state.String(),
		Games: make([]GameStatus, 0, len(games)),
	}
	for _, g := range games {
		hb.Games = append(hb.Games, GameStatus{
			GameID:    g.ID,
			Game:      g.Description(),
			StartTime: g.StartTime,
			Phase:     Classify(g.StartTime, now, window, inProgress),
			Until:     g.StartTime.Sub(now),
		})
	}
	return hb
}

// Line renders the status the way the heartbeat log prints it.
func (g GameStatus) Line() string {
	start := g.StartTime.Format("15:04 MST")
	switch g.Phase {
	case PhaseUpcoming, PhaseImminent:
		return fmt.Sprintf("%s @ %s - %s away", g.Game, start, clock(g.Until))
	case PhaseInProgress:
		return fmt.Sprintf("%s @ %s - In Progress", g.Game, start)
	default:
		return fmt.Sprintf("%s @ %s - Completed", g.Game, start)
	}
}

func clock(d time.Duration) string {
	total := int(d.Minutes())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
