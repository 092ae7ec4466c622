package migrate

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	SplitfileManifestsTableName = "splitfile_manifests"
	SplitfileManifestsVersion   = "20251014000000_splitfile_manifests_table"
)

type CreateSplitfileManifestsTable struct {
	// Table overrides the default table name.
	Table string
}

func (m *CreateSplitfileManifestsTable) Version() string {
	return SplitfileManifestsVersion
}

func (m *CreateSplitfileManifestsTable) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return SplitfileManifestsTableName
}

func (m *CreateSplitfileManifestsTable) Up(ctx context.Context, client *dynamodb.Client) error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("prefix"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("file_name"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("prefix"),
				KeyType:       types.KeyTypeHash, // Partition Key
			},
			{
				AttributeName: aws.String("file_name"),
				KeyType:       types.KeyTypeRange, // Sort Key
			},
		},
		TableName:   aws.String(m.TableName()),
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{
				Key:   aws.String("Purpose"),
				Value: aws.String("SplitfileManifests"),
			},
		},
	}

	if _, err := client.CreateTable(ctx, input); err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(m.TableName()),
	}, 5*time.Minute)
}

func (m *CreateSplitfileManifestsTable) Down(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(m.TableName()),
	})
	return err
}
