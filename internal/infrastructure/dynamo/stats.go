package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-notify/internal/domain"
)

const eventsByNotificationIndex = "notification_id-index"

// StatsRepo keeps delivery events and their counters in two tables. The
// events table doubles as the dedupe log: an event item is keyed by its
// channel dedupe key and a bare marker item by its total key, and both are
// written in the same transaction as the counter increments they guard.
type StatsRepo struct {
	db          DB
	eventsTable string
	statsTable  string
}

func NewStatsRepo(db DB, eventsTable, statsTable string) *StatsRepo {
	return &StatsRepo{db: db, eventsTable: eventsTable, statsTable: statsTable}
}

type counterRow struct {
	Scope     string `dynamodbav:"scope"`
	Dimension string `dynamodbav:"dimension"`
	domain.Counters
}

func (r *StatsRepo) Record(ctx context.Context, ev domain.DeliveryEvent, scopes []domain.Scope) (domain.RecordResult, error) {
	eventItem, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return domain.RecordResult{}, fmt.Errorf("marshal event: %w", err)
	}
	eventItem["event_key"] = &types.AttributeValueMemberS{Value: "C#" + ev.ChannelKey()}
	marker := map[string]types.AttributeValue{
		"event_key": &types.AttributeValueMemberS{Value: "T#" + ev.TotalKey()},
		"kind":      &types.AttributeValueMemberS{Value: string(ev.Kind)},
	}

	items := []types.TransactWriteItem{r.putOnce(eventItem), r.putOnce(marker)}
	for _, s := range scopes {
		items = append(items, r.increment(s, string(ev.Channel), ev.Kind), r.increment(s, domain.AllChannelsKey, ev.Kind))
	}
	reasons, err := r.transact(ctx, items)
	if err == nil {
		return domain.RecordResult{ChannelNew: true, TotalNew: true}, nil
	}
	if reasons == nil {
		return domain.RecordResult{}, err
	}
	if conditionFailed(reasons, 0) {
		return domain.RecordResult{}, nil
	}
	if !conditionFailed(reasons, 1) {
		return domain.RecordResult{}, err
	}

	// Another channel already reported this kind: count the channel row only.
	items = []types.TransactWriteItem{r.putOnce(eventItem)}
	for _, s := range scopes {
		items = append(items, r.increment(s, string(ev.Channel), ev.Kind))
	}
	reasons, err = r.transact(ctx, items)
	switch {
	case err == nil:
		return domain.RecordResult{ChannelNew: true}, nil
	case conditionFailed(reasons, 0):
		return domain.RecordResult{}, nil
	}
	return domain.RecordResult{}, err
}

// transact runs a write transaction. On cancellation it returns the
// per-item reasons alongside the error.
func (r *StatsRepo) transact(ctx context.Context, items []types.TransactWriteItem) ([]types.CancellationReason, error) {
	_, err := r.db.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil, nil
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce.CancellationReasons, fmt.Errorf("record event: %w", err)
	}
	return nil, fmt.Errorf("record event: %w", err)
}

func conditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == "ConditionalCheckFailed"
}

func (r *StatsRepo) putOnce(item map[string]types.AttributeValue) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                aws.String(r.eventsTable),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": "event_key"},
	}}
}

func (r *StatsRepo) increment(scope domain.Scope, dimension string, kind domain.EventKind) types.TransactWriteItem {
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                 aws.String(r.statsTable),
		Key:                       compositeKey("scope", scope.String(), "dimension", dimension),
		UpdateExpression:          aws.String("ADD #k :one"),
		ExpressionAttributeNames:  map[string]string{"#k": string(kind)},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": numValue(1)},
	}}
}

func (r *StatsRepo) Counters(ctx context.Context, scope domain.Scope) (map[string]domain.Counters, error) {
	rows, err := queryAll[counterRow](ctx, r.db, &dynamodb.QueryInput{
		TableName:                 aws.String(r.statsTable),
		KeyConditionExpression:    aws.String("#s = :s"),
		ExpressionAttributeNames:  map[string]string{"#s": "scope"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":s": &types.AttributeValueMemberS{Value: scope.String()}},
		ConsistentRead:            aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	out := make(map[string]domain.Counters, len(rows))
	for _, row := range rows {
		out[row.Dimension] = row.Counters
	}
	return out, nil
}

func (r *StatsRepo) Events(ctx context.Context, notificationID string) ([]domain.DeliveryEvent, error) {
	evs, err := queryIndex[domain.DeliveryEvent](ctx, r.db, r.eventsTable, eventsByNotificationIndex, "notification_id", notificationID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })
	return evs, nil
}
