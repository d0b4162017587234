package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-notify/internal/domain"
)

// TemplateRepo stores templates keyed by template_id.
type TemplateRepo struct {
	db        DB
	tableName string
}

func NewTemplateRepo(db DB, tableName string) *TemplateRepo {
	return &TemplateRepo{db: db, tableName: tableName}
}

func (r *TemplateRepo) Create(ctx context.Context, t *domain.Template) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	return putNew(ctx, r.db, r.tableName, "template_id", item)
}

func (r *TemplateRepo) Get(ctx context.Context, templateID string) (*domain.Template, error) {
	t, err := getItem[domain.Template](ctx, r.db, r.tableName, strKey("template_id", templateID))
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	return t, nil
}

func (r *TemplateRepo) List(ctx context.Context) ([]domain.Template, error) {
	items, err := scanAll[domain.Template](ctx, r.db, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TemplateID < items[j].TemplateID })
	return items, nil
}

// Save rewrites the definition fields only; usage_count and last_used are
// owned by AddUsage and survive concurrent edits.
func (r *TemplateRepo) Save(ctx context.Context, t *domain.Template, expectedVersion int64) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		"name":        t.Name,
		"description": t.Description,
		"type":        t.Type,
		"content":     t.Content,
		"variables":   t.Variables,
		"channels":    t.Channels,
		"is_active":   t.IsActive,
		"is_default":  t.IsDefault,
		"version":     t.Version,
		"updated_at":  t.UpdatedAt,
	})
	if err != nil {
		return err
	}
	ue.Names["#pk"] = "template_id"
	ue.Names["#ver"] = "version"
	ue.Values[":expected"] = numValue(expectedVersion)

	_, err = r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.tableName),
		Key:                                 strKey("template_id", t.TemplateID),
		UpdateExpression:                    aws.String(ue.Expr),
		ConditionExpression:                 aws.String("attribute_exists(#pk) AND #ver = :expected"),
		ExpressionAttributeNames:            ue.Names,
		ExpressionAttributeValues:           ue.Values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	return versionedErr(err, "template", t.TemplateID)
}

func (r *TemplateRepo) Delete(ctx context.Context, templateID string) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("template_id", templateID),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": "template_id"},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	return err
}

// AddUsage atomically bumps usage_count and stamps last_used.
func (r *TemplateRepo) AddUsage(ctx context.Context, templateID string, n int64, at time.Time) error {
	usedAt, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return err
	}
	_, err = r.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("template_id", templateID),
		UpdateExpression:         aws.String("ADD #cnt :n SET #last = :at"),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": "template_id", "#cnt": "usage_count", "#last": "last_used"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n":  numValue(n),
			":at": usedAt,
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	return err
}
