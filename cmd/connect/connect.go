// Package connect builds a store connection from configuration. It is
// the only place that knows which backend family a dialect belongs to.
package connect

import (
	"context"
	"fmt"
	"log/slog"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	athenasdk "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lakeshift/lakeshift/config"
	"github.com/lakeshift/lakeshift/core/platform"
	"github.com/lakeshift/lakeshift/dbschema"
	"github.com/lakeshift/lakeshift/dbschema/athena"
	"github.com/lakeshift/lakeshift/dbschema/relational"
	"github.com/lakeshift/lakeshift/objstore"
)

// Open connects to the store selected by cfg.Dialect. The returned
// closer releases the underlying handle (a no-op for athena).
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (dbschema.Connection, func() error, error) {
	if platform.NormalizeDialect(cfg.Dialect) == platform.Athena {
		conn, err := openAthena(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() error { return nil }, nil
	}

	conn, err := relational.Open(cfg.Dialect, cfg.DSN, relational.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, conn.Close, nil
}

func openAthena(ctx context.Context, cfg config.Config, logger *slog.Logger) (*athena.Connection, error) {
	var optFns []func(*awscfg.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awscfg.WithRegion(cfg.Region))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	bucketName, _, err := objstore.ParseLocation(cfg.DatabaseLocation)
	if err != nil {
		return nil, fmt.Errorf("invalid database_location: %w", err)
	}
	bucket := objstore.NewBucket(s3.NewFromConfig(awsConfig), bucketName).WithLogger(logger)

	return athena.New(
		athenasdk.NewFromConfig(awsConfig),
		glue.NewFromConfig(awsConfig),
		bucket,
		athena.Options{
			Database:         cfg.Database,
			Workgroup:        cfg.Workgroup,
			OutputLocation:   cfg.OutputLocation,
			DatabaseLocation: cfg.DatabaseLocation,
			MaxAttempts:      cfg.Retry.MaxAttempts,
			BaseDelay:        cfg.Retry.BaseDelay,
			Logger:           logger,
		},
	)
}
