package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/portrait-api/internal/domain"
)

const (
	phoneIndex = "phone-index"
	emailIndex = "email-index"
)

// identityClaim reserves an identity key for one record.
type identityClaim struct {
	ClaimKey string `dynamodbav:"claim_key"`
	RecordID string `dynamodbav:"record_id"`
}

// GenerationRepo provides typed DynamoDB operations for generation records
// and the identity claims that keep them unique per phone and email.
type GenerationRepo struct {
	client      API
	tableName   string
	claimsTable string
}

func NewGenerationRepo(client API, tableName, claimsTable string) *GenerationRepo {
	return &GenerationRepo{client: client, tableName: tableName, claimsTable: claimsTable}
}

func (r *GenerationRepo) Get(ctx context.Context, recordID string) (*domain.GenerationRecord, error) {
	return r.get(ctx, recordID, false)
}

func (r *GenerationRepo) get(ctx context.Context, recordID string, consistent bool) (*domain.GenerationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldRecordID, recordID),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("generation %s: %w", recordID, domain.ErrNotFound)
	}
	var rec domain.GenerationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal generation: %w", err)
	}
	return &rec, nil
}

// ClaimedRecord returns the record holding claimKey. Both reads are strongly
// consistent, so a claim written by a just-committed transaction is seen.
func (r *GenerationRepo) ClaimedRecord(ctx context.Context, claimKey string) (*domain.GenerationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.claimsTable),
		Key:            strKey(fieldClaimKey, claimKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("claim %s: %w", claimKey, domain.ErrNotFound)
	}
	var c identityClaim
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal claim: %w", err)
	}
	return r.get(ctx, c.RecordID, true)
}

func (r *GenerationRepo) GetByPhone(ctx context.Context, phone string) (*domain.GenerationRecord, error) {
	return r.queryGSI(ctx, phoneIndex, fieldPhone, phone)
}

func (r *GenerationRepo) GetByEmail(ctx context.Context, email string) (*domain.GenerationRecord, error) {
	return r.queryGSI(ctx, emailIndex, fieldEmail, email)
}

// Create writes rec together with a claim for each identity it carries.
// When any claim already exists the whole write is rejected with ErrConflict.
func (r *GenerationRepo) Create(ctx context.Context, rec *domain.GenerationRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal generation: %w", err)
	}
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(record_id)"),
		},
	}}
	claims, err := r.claimPuts(claimKeys(rec), rec.RecordID)
	if err != nil {
		return err
	}
	items = append(items, claims...)

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("identity already claimed: %w", domain.ErrConflict)
		}
		return fmt.Errorf("create generation: %w", err)
	}
	return nil
}

// Update applies updates to an existing record. Each move claims its To key
// for recordID and releases its From key in the same transaction; a To key
// held by another record yields ErrConflict, and a missing record yields
// ErrNotFound.
func (r *GenerationRepo) Update(ctx context.Context, recordID string, updates map[string]interface{}, moves ...domain.IdentityMove) error {
	updates[fieldUpdatedAt] = time.Now().UTC()
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	update := &types.Update{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldRecordID, recordID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(record_id)"),
	}

	if len(moves) == 0 {
		_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
			ConditionExpression:       update.ConditionExpression,
		})
		if err != nil {
			if isConditionFailed(err) {
				return fmt.Errorf("generation %s: %w", recordID, domain.ErrNotFound)
			}
			return fmt.Errorf("update generation: %w", err)
		}
		return nil
	}

	items := []types.TransactWriteItem{{Update: update}}
	var claims []string
	for _, m := range moves {
		claims = append(claims, m.To)
	}
	puts, err := r.claimPuts(claims, recordID)
	if err != nil {
		return err
	}
	items = append(items, puts...)
	items = append(items, r.claimReleases(moves, recordID)...)
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("update generation %s: %w", recordID, domain.ErrConflict)
		}
		return fmt.Errorf("update generation: %w", err)
	}
	return nil
}

// ClearArtifacts removes every artifact key from the stored record.
func (r *GenerationRepo) ClearArtifacts(ctx context.Context, recordID string) error {
	ue, err := buildUpdateExpr(
		map[string]interface{}{fieldUpdatedAt: time.Now().UTC()},
		fieldUploadedPhotoKey, fieldAIArtifactKey, fieldFinalArtifactKey,
	)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldRecordID, recordID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(record_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("generation %s: %w", recordID, domain.ErrNotFound)
		}
		return fmt.Errorf("clear artifacts: %w", err)
	}
	return nil
}

// claimPuts builds conditional puts that succeed when the key is free or
// already held by recordID.
func (r *GenerationRepo) claimPuts(keys []string, recordID string) ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem
	for _, k := range keys {
		item, err := attributevalue.MarshalMap(identityClaim{ClaimKey: k, RecordID: recordID})
		if err != nil {
			return nil, fmt.Errorf("marshal claim: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(r.claimsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(claim_key) OR record_id = :rid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":rid": &types.AttributeValueMemberS{Value: recordID},
				},
			},
		})
	}
	return items, nil
}

// claimReleases deletes the From key of each move while it still belongs to
// recordID. A key that is already gone is not an error.
func (r *GenerationRepo) claimReleases(moves []domain.IdentityMove, recordID string) []types.TransactWriteItem {
	var items []types.TransactWriteItem
	for _, m := range moves {
		if m.From == "" || m.From == m.To {
			continue
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:           aws.String(r.claimsTable),
				Key:                 strKey(fieldClaimKey, m.From),
				ConditionExpression: aws.String("attribute_not_exists(claim_key) OR record_id = :rid"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":rid": &types.AttributeValueMemberS{Value: recordID},
				},
			},
		})
	}
	return items
}

// claimKeys lists the identity keys carried by rec.
func claimKeys(rec *domain.GenerationRecord) []string {
	var keys []string
	if rec.Phone != "" {
		keys = append(keys, domain.PhoneKey(rec.Phone))
	}
	if rec.Email != "" {
		keys = append(keys, domain.EmailKey(rec.Email))
	}
	return keys
}

func (r *GenerationRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.GenerationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("generation by %s: %w", attr, domain.ErrNotFound)
	}
	var rec domain.GenerationRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("unmarshal generation: %w", err)
	}
	return &rec, nil
}
