package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
)

// Export renders stored predictions as CSV and/or a PNG chart of forecast
// probabilities.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	store := a.newResultStore()
	from, to, err := resolveDays(store, opts.From, opts.To)
	if err != nil {
		return err
	}
	if from == "" {
		a.Logger.Info().Msg("no predictions stored yet")
		return nil
	}

	records, err := collectRecords(store, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("from", from).Str("to", to).Msg("no predictions found for export window")
		return nil
	}

	exported := downsampleRecords(records, opts.MaxRows)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(exported)).Msg("exporting predictions")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, exported); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeForecastPNG(opts.PNGPath, exported); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storedRecord, max int) []storedRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storedRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storedRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"day", "recorded_at", "id", "model", "kind", "game_id", "game", "game_time", "home_team", "away_team", "probability", "likelihood", "odds_info", "response"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		probability := ""
		if rec.Probability != nil {
			probability = formatProbability(rec.Probability)
		}
		row := []string{
			rec.Day,
			rec.Timestamp.Format(time.RFC3339),
			rec.ID,
			rec.Model,
			kindLabel(rec.IsForecast),
			rec.GameID,
			rec.Game,
			rec.GameDatetime.Format(time.RFC3339),
			rec.HomeTeam,
			rec.AwayTeam,
			probability,
			rec.Likelihood,
			rec.OddsInfo,
			rec.Response,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

// writeForecastPNG plots one series per forecast model: probability (0-100)
// against the time the forecast was recorded.
func writeForecastPNG(path string, records []storedRecord) error {
	type points struct {
		x []time.Time
		y []float64
	}
	byModel := make(map[string]*points)
	total := 0
	for _, rec := range records {
		if !rec.IsForecast || rec.Probability == nil {
			continue
		}
		p := byModel[rec.Model]
		if p == nil {
			p = &points{}
			byModel[rec.Model] = p
		}
		p.x = append(p.x, rec.Timestamp)
		p.y = append(p.y, float64(*rec.Probability))
		total++
	}
	if total < 2 {
		return errors.New("need at least two forecast probabilities to render a chart")
	}

	models := make([]string, 0, len(byModel))
	for model := range byModel {
		models = append(models, model)
	}
	sort.Strings(models)

	series := make([]chart.Series, 0, len(models))
	for _, model := range models {
		p := byModel[model]
		series = append(series, chart.TimeSeries{
			Name:    model + " (" + strconv.Itoa(len(p.y)) + ")",
			XValues: p.x,
			YValues: p.y,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Forecast probability (%)",
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
