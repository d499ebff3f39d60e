package prediction

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"odds-oracle/internal/fetcher"
)

func TestOddsInfoUsesFirstThreeBooks(t *testing.T) {
	odds := &fetcher.OddsGame{
		HomeTeam:      "Boston Red Sox",
		AwayTeam:      "New York Yankees",
		HomeMoneyline: map[string]int{"fanduel": -140, "draftkings": -145, "betmgm": -150, "caesars": -135},
		AwayMoneyline: map[string]int{"fanduel": 120, "draftkings": 125, "betmgm": 130, "caesars": 115},
		Books:         []string{"fanduel", "draftkings", "betmgm", "caesars"},
	}

	got := OddsInfo("Boston Red Sox", "New York Yankees", odds)
	want := "Current odds from fanduel, draftkings, betmgm:\n" +
		"Boston Red Sox: -140, -145, -150\n" +
		"New York Yankees: 120, 125, 130\n"
	assert.Equal(t, want, got)
}

func TestOddsInfoSkipsOneSidedBooks(t *testing.T) {
	odds := &fetcher.OddsGame{
		HomeMoneyline: map[string]int{"fanduel": -140, "draftkings": -145},
		AwayMoneyline: map[string]int{"draftkings": 125},
		Books:         []string{"fanduel", "draftkings"},
	}
	got := OddsInfo("Home", "Away", odds)
	assert.Equal(t, "Current odds from draftkings:\nHome: -145\nAway: 125\n", got)
}

func TestOddsInfoUnavailable(t *testing.T) {
	assert.Equal(t, NoOddsInfo, OddsInfo("Home", "Away", nil))
	assert.Equal(t, NoOddsInfo, OddsInfo("Home", "Away", &fetcher.OddsGame{}))
}

func TestForecastQuery(t *testing.T) {
	assert.Equal(t,
		"Can you predict the winner for the upcoming game of New York Yankees vs Boston Red Sox?",
		Query("New York Yankees vs Boston Red Sox", "ignored", true))
}

func TestAnalysisQuery(t *testing.T) {
	q := Query("New York Yankees vs Boston Red Sox", NoOddsInfo, false)

	assert.True(t, strings.HasPrefix(q, "Analyze the upcoming MLB game: New York Yankees vs Boston Red Sox. As a sports betting expert"))
	assert.Contains(t, q, "17. Motivational factors (playoff race, rivalries, etc.)\n\n")
	assert.Contains(t, q, "Current odds:\nOdds data unavailable\n\nBased on this analysis:\n")
	assert.Contains(t, q, "using the phrase 'My prediction is:'")
	assert.True(t, strings.HasSuffix(q, "Keep the total response under 1990 characters."))

	for i := 1; i <= 17; i++ {
		assert.Contains(t, q, "\n"+strconv.Itoa(i)+". ")
	}
}

