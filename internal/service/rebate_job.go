package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fidus/internal/config"
	"fidus/internal/models"
	"fidus/internal/rebate"
	"fidus/internal/repository"
)

// RebateJob calculates the previous calendar month's rebates on schedule and
// records each pass as a sync run.
type RebateJob struct {
	Repo       repository.Repository
	Calculator *rebate.Calculator
	Config     config.RebateConfig
	Logger     *zap.Logger
	Flags      *SystemSettingsService
	Now        func() time.Time
}

func (j *RebateJob) RunIfEnabled(ctx context.Context) {
	if j == nil || j.Calculator == nil {
		return
	}
	if j.Flags != nil && !j.Flags.IsEnabled(ctx, FeatureRebateCalc, true) {
		return
	}
	if _, err := j.RunPreviousMonth(ctx); err != nil {
		j.logger().Warn("scheduled rebate calculation failed", zap.Error(err))
	}
}

func (j *RebateJob) RunPreviousMonth(ctx context.Context) (rebate.CalculationResult, error) {
	now := time.Now().UTC()
	if j.Now != nil {
		now = j.Now().UTC()
	}
	start, end := rebate.PreviousMonth(now)
	return j.Run(ctx, rebate.Request{Start: start, End: end, AutoApprove: j.Config.AutoApprove})
}

func (j *RebateJob) Run(ctx context.Context, req rebate.Request) (rebate.CalculationResult, error) {
	run := &models.SyncRun{ID: uuid.NewString(), Kind: RunKindRebateCalc, StartedAt: time.Now().UTC()}
	if j.Repo != nil {
		if err := j.Repo.InsertSyncRun(ctx, run); err != nil {
			j.logger().Warn("insert sync run failed", zap.Error(err))
		}
	}
	res, err := j.Calculator.CalculateForPeriod(ctx, req)
	if j.Repo == nil {
		return res, err
	}
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Succeeded = res.AccountsProcessed
	run.Skipped = res.AccountsSkipped
	run.Failed = res.AccountsFailed
	if err != nil {
		msg := err.Error()
		run.LastError = &msg
	}
	if raw, mErr := json.Marshal(res); mErr == nil {
		run.StatsJSON = datatypes.JSON(raw)
	}
	if fErr := j.Repo.FinishSyncRun(ctx, run); fErr != nil {
		j.logger().Warn("finish sync run failed", zap.String("run_id", run.ID), zap.Error(fErr))
	}
	return res, err
}

func (j *RebateJob) logger() *zap.Logger {
	if j == nil || j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}
