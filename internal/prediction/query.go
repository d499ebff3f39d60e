package prediction

import (
	"fmt"
	"strconv"
	"strings"

	"odds-oracle/internal/fetcher"
)

// NoOddsInfo replaces the odds block when a game has no cached board.
const NoOddsInfo = "Odds data unavailable"

const maxBooks = 3

// OddsInfo summarises up to three sportsbooks' moneylines for a game.
func OddsInfo(homeTeam, awayTeam string, odds *fetcher.OddsGame) string {
	if odds == nil {
		return NoOddsInfo
	}

	books := make([]string, 0, maxBooks)
	for _, book := range odds.Books {
		if _, ok := odds.HomeMoneyline[book]; !ok {
			continue
		}
		if _, ok := odds.AwayMoneyline[book]; !ok {
			continue
		}
		books = append(books, book)
		if len(books) == maxBooks {
			break
		}
	}
	if len(books) == 0 {
		return NoOddsInfo
	}

	home := make([]string, len(books))
	away := make([]string, len(books))
	for i, book := range books {
		home[i] = strconv.Itoa(odds.HomeMoneyline[book])
		away[i] = strconv.Itoa(odds.AwayMoneyline[book])
	}

	return fmt.Sprintf("Current odds from %s:\n%s: %s\n%s: %s\n",
		strings.Join(books, ", "),
		homeTeam, strings.Join(home, ", "),
		awayTeam, strings.Join(away, ", "))
}

// ForecastQuery is the short question sent to the forecast endpoint.
func ForecastQuery(description string) string {
	return fmt.Sprintf("Can you predict the winner for the upcoming game of %s?", description)
}

// AnalysisQuery is the full betting-analysis prompt for chat models.
func AnalysisQuery(description, oddsInfo string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the upcoming MLB game: %s. As a sports betting expert, provide a methodical analysis considering:\n", description)
	b.WriteString("1. Recent team performance (last 10-15 games)\n")
	b.WriteString("2. Starting pitchers' stats (ERA, WHIP, recent form)\n")
	b.WriteString("3. Key players' current form and historical performance\n")
	b.WriteString("4. Team and individual player stats (OPS, ERA, etc.)\n")
	b.WriteString("5. Head-to-head record, especially at the current venue\n")
	b.WriteString("6. Injuries, suspensions, or significant roster changes\n")
	b.WriteString("7. Home/away performance this season\n")
	b.WriteString("8. Bullpen strength and recent usage\n")
	b.WriteString("9. Weather conditions and their potential impact\n")
	b.WriteString("10. Any relevant trends or streaks\n\n")
	b.WriteString("Additional factors:\n")
	b.WriteString("11. Performance in day vs. night games (if applicable)\n")
	b.WriteString("12. Recent travel and scheduling factors\n")
	b.WriteString("13. Performance against left/right-handed pitchers\n")
	b.WriteString("14. Umpire assignments and tendencies\n")
	b.WriteString("15. Stolen base success rates vs. catcher throw-out percentages\n")
	b.WriteString("16. Performance in high-leverage situations\n")
	b.WriteString("17. Motivational factors (playoff race, rivalries, etc.)\n\n")
	fmt.Fprintf(&b, "Current odds:\n%s\n\n", oddsInfo)
	b.WriteString("Based on this analysis:\n")
	b.WriteString("1. Provide an absolute recommendation at the beginning, using the phrase 'My prediction is:'\n")
	b.WriteString("2. State your confidence level (low, medium, high).\n")
	b.WriteString("3. Suggest the most promising betting options (money line, run line, over/under).\n")
	b.WriteString("4. Explain your rationale, highlighting key factors influencing your recommendation.\n")
	b.WriteString("5. Identify any potential upset scenarios or undervalued bets.\n\n")
	b.WriteString("Keep the total response under 1990 characters.")
	return b.String()
}

// Query picks the prompt shape for the variant.
func Query(description, oddsInfo string, forecast bool) string {
	if forecast {
		return ForecastQuery(description)
	}
	return AnalysisQuery(description, oddsInfo)
}
