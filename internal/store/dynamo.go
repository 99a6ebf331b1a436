package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "PLACE#"
	skRun    = "RUN#"
)

// DynamoAPI is the subset of *dynamodb.Client the ledger uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements RunStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func placePK(place string) string {
	return pkPrefix + place
}

func runSK(runID string) string {
	return skRun + runID
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(RunTTL).Unix()
}

// putItem marshals a domain object and writes it with PK, SK and TTL.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out. Returns false if
// the item does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

func (s *DynamoStore) PutRun(ctx context.Context, run *RunRecord) error {
	if run.RunID == "" || run.Place == "" {
		return fmt.Errorf("put run: place and run id are required")
	}
	if err := s.putItem(ctx, placePK(run.Place), runSK(run.RunID), run); err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	log.Debug().Str("runId", run.RunID).Str("place", run.Place).Str("state", run.State).Msg("Run persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, place, runID string) (*RunRecord, error) {
	var run RunRecord
	found, err := s.getItem(ctx, placePK(place), runSK(runID), &run)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if !found {
		return nil, nil
	}
	run.Place = place
	run.RunID = runID
	return &run, nil
}

func (s *DynamoStore) ListRuns(ctx context.Context, place string) ([]*RunRecord, error) {
	pk := placePK(place)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: skRun},
		},
	}

	var runs []*RunRecord
	// DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			var run RunRecord
			if err := attributevalue.UnmarshalMap(item, &run); err != nil {
				return nil, fmt.Errorf("unmarshal run: %w", err)
			}
			if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
				run.RunID = strings.TrimPrefix(sk.Value, skRun)
			}
			run.Place = place
			runs = append(runs, &run)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sortByStart(runs)
	return runs, nil
}
