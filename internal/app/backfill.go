package app

import (
	"context"
	"errors"
	"fmt"

	"odds-oracle/internal/storage"
)

// Backfill 将结果文件中的预测回放到 PostgreSQL 镜像。已存在的记录按 id 跳过。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	return a.backfill(ctx, opts, nil)
}

func (a *App) backfill(ctx context.Context, opts BackfillOptions, sink storage.PredictionStore) error {
	results := a.newResultStore()
	from, to, err := resolveDays(results, opts.From, opts.To)
	if err != nil {
		return err
	}
	if from == "" {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	records, err := collectRecords(results, from, to)
	if err != nil {
		return err
	}

	if opts.DryRun {
		a.Logger.Warn().
			Str("from", from).
			Str("to", to).
			Int("records", len(records)).
			Msg("回填 dry-run：不会写入数据库")
		return nil
	}

	if sink == nil {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		defer closeStore()
		sink = store
	}

	written := 0
	failed := 0
	var days []string
	for _, rec := range records {
		days = appendDay(days, rec.Day)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.InsertPrediction(ctx, storage.RowFromRecord(rec.Day, rec.Record)); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("id", rec.ID).Str("day", rec.Day).Msg("回填失败")
			continue
		}
		written++
	}

	for _, day := range days {
		count, err := sink.CountPredictions(ctx, day)
		if err != nil {
			a.Logger.Warn().Err(err).Str("day", day).Msg("统计镜像记录失败")
			continue
		}
		a.Logger.Info().Str("day", day).Int64("mirrored", count).Msg("镜像记录数")
	}

	a.Logger.Info().Str("from", from).Str("to", to).Int("written", written).Int("failed", failed).Msg("回填完成")
	if failed > 0 {
		return fmt.Errorf("%d 条记录回填失败，请检查日志", failed)
	}
	return nil
}

func appendDay(days []string, day string) []string {
	for _, d := range days {
		if d == day {
			return days
		}
	}
	return append(days, day)
}
