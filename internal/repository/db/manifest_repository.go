package db

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zzenonn/zfetch/internal/domain"
	ferrors "github.com/zzenonn/zfetch/internal/errors"
	"github.com/zzenonn/zfetch/internal/keys"
)

// manifestRecord is the DynamoDB item of a manifest. Keys are stored as hex.
type manifestRecord struct {
	Prefix             string   `dynamodbav:"prefix"`
	FileName           string   `dynamodbav:"file_name"`
	SplitfileType      int16    `dynamodbav:"splitfile_type"`
	DataKeys           []string `dynamodbav:"data_keys"`
	CheckKeys          []string `dynamodbav:"check_keys,omitempty"`
	DataLength         int64    `dynamodbav:"data_length"`
	UncompressedLength int64    `dynamodbav:"uncompressed_length"`
	MIMEType           string   `dynamodbav:"mime_type,omitempty"`
	SplitfileParams    []byte   `dynamodbav:"splitfile_params,omitempty"`
	Compression        []string `dynamodbav:"compression,omitempty"`
}

func toRecord(m domain.Manifest) manifestRecord {
	return manifestRecord{
		Prefix:             m.Prefix,
		FileName:           m.FileName,
		SplitfileType:      int16(m.SplitfileType),
		DataKeys:           hexKeys(m.DataKeys),
		CheckKeys:          hexKeys(m.CheckKeys),
		DataLength:         m.DataLength,
		UncompressedLength: m.UncompressedLength,
		MIMEType:           m.MIMEType,
		SplitfileParams:    m.SplitfileParams,
		Compression:        m.Compression,
	}
}

func (r manifestRecord) manifest() (domain.Manifest, error) {
	dataKeys, err := parseKeys(r.DataKeys)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("bad data key: %w", err)
	}
	checkKeys, err := parseKeys(r.CheckKeys)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("bad check key: %w", err)
	}
	return domain.Manifest{
		Prefix:             r.Prefix,
		FileName:           r.FileName,
		SplitfileType:      domain.SplitfileType(r.SplitfileType),
		DataKeys:           dataKeys,
		CheckKeys:          checkKeys,
		DataLength:         r.DataLength,
		UncompressedLength: r.UncompressedLength,
		MIMEType:           r.MIMEType,
		SplitfileParams:    r.SplitfileParams,
		Compression:        r.Compression,
	}, nil
}

func hexKeys(ks []keys.Key) []string {
	if len(ks) == 0 {
		return nil
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.String()
	}
	return out
}

func parseKeys(ss []string) ([]keys.Key, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]keys.Key, len(ss))
	for i, s := range ss {
		k, err := keys.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

// ManifestRepository manages DynamoDB interactions for splitfile manifests.
type ManifestRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewManifestRepository initializes a new ManifestRepository.
func NewManifestRepository(client *dynamodb.Client, tableName string) ManifestRepository {
	return ManifestRepository{
		client:    client,
		tableName: tableName,
	}
}

// CreateManifest stores a manifest, replacing any manifest at the same path.
func (repo *ManifestRepository) CreateManifest(ctx context.Context, m domain.Manifest) (domain.Manifest, error) {
	item, err := attributevalue.MarshalMap(toRecord(m))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(repo.tableName),
		Item:      item,
	}
	if _, err := repo.client.PutItem(ctx, input); err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to create manifest: %w", err)
	}
	return m, nil
}

// GetManifest retrieves a manifest by prefix and filename.
func (repo *ManifestRepository) GetManifest(ctx context.Context, prefix, fileName string) (domain.Manifest, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(repo.tableName),
		Key:       itemKey(prefix, fileName),
	}

	result, err := repo.client.GetItem(ctx, input)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to get manifest: %w", err)
	}
	if result.Item == nil {
		return domain.Manifest{}, ferrors.New(ferrors.NotFound, "manifest %s/%s not found", prefix, fileName)
	}

	var record manifestRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return domain.Manifest{}, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return record.manifest()
}

// ListManifestsByPrefix retrieves every manifest within a prefix (directory).
func (repo *ManifestRepository) ListManifestsByPrefix(ctx context.Context, prefix string) ([]domain.Manifest, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(repo.tableName),
		KeyConditionExpression: aws.String("#prefix = :prefix"),
		ExpressionAttributeNames: map[string]string{
			"#prefix": "prefix",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	var manifests []domain.Manifest
	paginator := dynamodb.NewQueryPaginator(repo.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query manifests by prefix: %w", err)
		}
		for _, item := range page.Items {
			var record manifestRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
			}
			m, err := record.manifest()
			if err != nil {
				return nil, err
			}
			manifests = append(manifests, m)
		}
	}
	return manifests, nil
}

// DeleteManifest removes a manifest by prefix and filename.
func (repo *ManifestRepository) DeleteManifest(ctx context.Context, prefix, fileName string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(repo.tableName),
		Key:       itemKey(prefix, fileName),
	}
	if _, err := repo.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	return nil
}

func itemKey(prefix, fileName string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"prefix":    &types.AttributeValueMemberS{Value: prefix},
		"file_name": &types.AttributeValueMemberS{Value: fileName},
	}
}
