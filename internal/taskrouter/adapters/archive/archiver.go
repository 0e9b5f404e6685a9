// Package archive ships old ScheduleLog entries to cold storage and
// removes them from the relational store, keeping the hot table small
// without ever deleting a log before it has a durable copy elsewhere.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/repository"
)

// Config tunes the archive sweep.
type Config struct {
	Bucket        string
	Prefix        string
	Region        string
	CutoffSeconds float64
	BatchSize     int
}

// Archiver periodically moves ScheduleLog entries older than
// Config.CutoffSeconds into S3, one JSON array per batch, then deletes
// the archived rows from the store.
type Archiver struct {
	logs   repository.ScheduleLogRepository
	client *s3.Client
	cfg    Config
	log    logger.Logger
}

// NewArchiver builds an Archiver against the default AWS credential
// chain.
func NewArchiver(ctx context.Context, logs repository.ScheduleLogRepository, cfg Config, log logger.Logger) (*Archiver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Archiver{
		logs:   logs,
		client: s3.NewFromConfig(awsCfg),
		cfg:    cfg,
		log:    log,
	}, nil
}

// Sweep archives one batch of old entries. Returns the number of
// entries archived; zero means nothing was old enough to move.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	entries, err := a.logs.FindOlderThan(ctx, a.cfg.CutoffSeconds, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("find old schedule logs: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("marshal archive batch: %w", err)
	}

	key := fmt.Sprintf("%sschedule-logs/%s.json", a.cfg.Prefix, time.Now().UTC().Format("20060102T150405.000000000"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return 0, fmt.Errorf("upload archive batch: %w", err)
	}

	ids := make([]model.ScheduleLogID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := a.logs.DeleteByIDs(ctx, ids); err != nil {
		return 0, fmt.Errorf("delete archived logs: %w", err)
	}

	a.log.Info("archived schedule logs", "count", len(entries), "s3_key", key)
	return len(entries), nil
}
