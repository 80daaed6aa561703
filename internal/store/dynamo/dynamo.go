// Package dynamo stores the transition graph in a single DynamoDB table.
//
// Item layout:
//
//	PK                            SK              attributes
//	TENANT#<tenant>               META            Initialized
//	TENANT#<tenant>               FORBID#<fold>   Word
//	TENANT#<tenant>#FROM#<node>   TO#<node>       To, Uses
//
// Node keys are markov.Node.Key values, so a word is identified by its text
// in every tenant. Edge counters are bumped with a single UpdateItem ADD,
// which DynamoDB applies atomically and creates the item when missing.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/markov"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config selects the table and, for local development, the endpoint.
type Config struct {
	Table    string
	Region   string
	Endpoint string
}

type edgeItem struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	To   string `dynamodbav:"To"`
	Uses uint64 `dynamodbav:"Uses"`
}

type forbiddenItem struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Word string `dynamodbav:"Word"`
}

type tenantItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Initialized string `dynamodbav:"Initialized"`
}

const (
	metaSK       = "META"
	forbidPrefix = "FORBID#"
	edgePrefix   = "TO#"
)

func tenantPK(tenant string) string { return "TENANT#" + tenant }

func edgePK(tenant string, from markov.Node) string {
	return tenantPK(tenant) + "#FROM#" + from.Key()
}

// Store is a markov.Store backed by DynamoDB.
type Store struct {
	client API
	table  string
	logger *zap.Logger
}

var _ markov.Store = (*Store)(nil)

// New returns a store using client and table.
func New(client API, table string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, table: table, logger: logger}
}

// Open loads the default AWS configuration and returns a store for cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg.Table, logger), nil
}

// UpsertEdge implements markov.EdgeStore.
func (s *Store) UpsertEdge(ctx context.Context, tenant string, from, to markov.Node) error {
	update := expression.
		Add(expression.Name("Uses"), expression.Value(1)).
		Set(expression.Name("To"), expression.Value(to.Key()))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: edgePK(tenant, from)},
			"SK": &types.AttributeValueMemberS{Value: edgePrefix + to.Key()},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return s.wrap(ctx, "upsert edge", err)
	}
	return nil
}

// FetchOutgoing implements markov.EdgeStore. Results come back in sort key
// order, which keeps them stable between calls.
func (s *Store) FetchOutgoing(ctx context.Context, tenant string, from markov.Node) ([]markov.Candidate, error) {
	forbidden, err := s.ForbiddenWords(ctx, tenant)
	if err != nil {
		return nil, err
	}

	var items []edgeItem
	err = s.query(ctx, edgePK(tenant, from), edgePrefix, func(page []map[string]types.AttributeValue) error {
		var batch []edgeItem
		if err := attributevalue.UnmarshalListOfMaps(page, &batch); err != nil {
			return fmt.Errorf("unmarshal edges: %w", err)
		}
		items = append(items, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]markov.Candidate, 0, len(items))
	for _, item := range items {
		next, ok := markov.ParseKey(item.To)
		if !ok {
			s.logger.Warn("skipping edge with malformed destination",
				zap.String("pk", item.PK), zap.String("to", item.To))
			continue
		}
		if next.Kind == markov.KindWord && forbidden.Contains(next.Text) {
			continue
		}
		candidates = append(candidates, markov.Candidate{Next: next, Uses: item.Uses})
	}
	return candidates, nil
}

// InitializeTenant implements markov.TenantStore. The META item marks a
// tenant as created and is written last, after the default words, so a failed
// seed is retried by the next call instead of being skipped.
func (s *Store) InitializeTenant(ctx context.Context, tenant string, forbidden []string) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            metaKey(tenant),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return s.wrap(ctx, "get tenant", err)
	}
	if len(out.Item) > 0 {
		return nil
	}

	for _, w := range forbidden {
		if err := s.AddForbiddenWord(ctx, tenant, w); err != nil {
			return err
		}
	}

	item, err := attributevalue.MarshalMap(tenantItem{
		PK:          tenantPK(tenant),
		SK:          metaSK,
		Initialized: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal tenant: %w", err)
	}

	cond := expression.Name("PK").AttributeNotExists()
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// A concurrent call created the tenant first.
			return nil
		}
		return s.wrap(ctx, "initialize tenant", err)
	}
	s.logger.Info("tenant initialized", zap.String("tenant", tenant), zap.Int("forbidden", len(forbidden)))
	return nil
}

func metaKey(tenant string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: tenantPK(tenant)},
		"SK": &types.AttributeValueMemberS{Value: metaSK},
	}
}

// ForbiddenWords implements markov.TenantStore.
func (s *Store) ForbiddenWords(ctx context.Context, tenant string) (markov.WordSet, error) {
	set := markov.NewWordSet()
	err := s.query(ctx, tenantPK(tenant), forbidPrefix, func(page []map[string]types.AttributeValue) error {
		var batch []forbiddenItem
		if err := attributevalue.UnmarshalListOfMaps(page, &batch); err != nil {
			return fmt.Errorf("unmarshal forbidden words: %w", err)
		}
		for _, item := range batch {
			set.Add(item.Word)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// AddForbiddenWord implements markov.TenantStore.
func (s *Store) AddForbiddenWord(ctx context.Context, tenant, word string) error {
	item, err := attributevalue.MarshalMap(forbiddenItem{
		PK:   tenantPK(tenant),
		SK:   forbidPrefix + markov.FoldWord(word),
		Word: word,
	})
	if err != nil {
		return fmt.Errorf("marshal forbidden word: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return s.wrap(ctx, "add forbidden word", err)
	}
	return nil
}

// RemoveForbiddenWord implements markov.TenantStore.
func (s *Store) RemoveForbiddenWord(ctx context.Context, tenant, word string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenant)},
			"SK": &types.AttributeValueMemberS{Value: forbidPrefix + markov.FoldWord(word)},
		},
	})
	if err != nil {
		return s.wrap(ctx, "remove forbidden word", err)
	}
	return nil
}

// query pages through every item under pk whose sort key starts with prefix.
func (s *Store) query(ctx context.Context, pk, prefix string, page func([]map[string]types.AttributeValue) error) error {
	keyCond := expression.Key("PK").Equal(expression.Value(pk)).
		And(expression.Key("SK").BeginsWith(prefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return fmt.Errorf("build key condition: %w", err)
	}

	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return s.wrap(ctx, "query", err)
		}
		if err := page(out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// wrap classifies an SDK failure. Cancellation is reported as the context
// error; everything else is a retryable storage failure.
func (s *Store) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("dynamodb %s: %w", op, ctxErr)
	}

	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		fields = append(fields, zap.String("code", apiErr.ErrorCode()))
	}
	s.logger.Warn("dynamodb request failed", fields...)

	return fmt.Errorf("dynamodb %s: %w: %w", op, markov.ErrStorageUnavailable, err)
}
