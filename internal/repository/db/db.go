package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
	"github.com/zzenonn/zfetch/internal/repository/migrate"
)

type DynamoDb struct {
	Client        *dynamodb.Client
	ManifestTable string
}

func NewDatabase(awsConfig aws.Config, manifestTable string) (*DynamoDb, error) {
	client := dynamodb.NewFromConfig(awsConfig)
	if client == nil {
		return nil, fmt.Errorf("failed to create DynamoDB client")
	}

	return &DynamoDb{
		Client:        client,
		ManifestTable: manifestTable,
	}, nil
}

// MigrateDb applies every migration whose table does not exist yet.
func (d *DynamoDb) MigrateDb(ctx context.Context) error {
	for _, m := range migrate.All(d.ManifestTable) {
		_, err := d.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(m.TableName())})
		if err == nil {
			log.WithField("table", m.TableName()).Info("Table already exists, skipping migration")
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe table %s: %w", m.TableName(), err)
		}

		log.WithFields(log.Fields{"table": m.TableName(), "version": m.Version()}).Info("Applying migration")
		if err := m.Up(ctx, d.Client); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Version(), err)
		}
	}
	return nil
}

// MigrateDown rolls back every migration, most recent first.
func (d *DynamoDb) MigrateDown(ctx context.Context) error {
	migrations := migrate.All(d.ManifestTable)
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		log.WithFields(log.Fields{"table": m.TableName(), "version": m.Version()}).Info("Rolling back migration")
		if err := m.Down(ctx, d.Client); err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("rollback of %s failed: %w", m.Version(), err)
		}
	}
	return nil
}
