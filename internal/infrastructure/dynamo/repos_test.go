package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeDB records requests and replays canned responses. Methods not
// overridden panic through the nil embedded interface.
type fakeDB struct {
	DB

	getOut    *dynamodb.GetItemOutput
	puts      []*dynamodb.PutItemInput
	putErr    error
	updates   []*dynamodb.UpdateItemInput
	queries   []*dynamodb.QueryInput
	pages     []*dynamodb.QueryOutput
	txs       []*dynamodb.TransactWriteItemsInput
	txErrs    []error
	createErr map[string]error
	created   []string
}

func (f *fakeDB) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queries = append(f.queries, &cp)
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txs = append(f.txs, in)
	var err error
	if len(f.txErrs) > 0 {
		err = f.txErrs[0]
		f.txErrs = f.txErrs[1:]
	}
	return &dynamodb.TransactWriteItemsOutput{}, err
}

func (f *fakeDB) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	name := aws.ToString(in.TableName)
	f.created = append(f.created, name)
	return &dynamodb.CreateTableOutput{}, f.createErr[name]
}

func mustMarshal(t *testing.T, v interface{}) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return item
}

func canceled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(c)}
	}
	return &types.TransactionCanceledException{Message: aws.String("canceled"), CancellationReasons: reasons}
}

func TestNotificationRepo_CreateProjectsRecipient(t *testing.T) {
	db := &fakeDB{}
	repo := NewNotificationRepo(db, "notifications")

	err := repo.Create(context.Background(), &domain.Notification{
		NotificationID: "n1",
		Status:         domain.StatusQueued,
		Recipient:      domain.Recipient{ID: "p-7"},
		Version:        1,
	})
	require.NoError(t, err)
	require.Len(t, db.puts, 1)
	in := db.puts[0]
	assert.Equal(t, "attribute_not_exists(#pk)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "notification_id", in.ExpressionAttributeNames["#pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "p-7"}, in.Item["recipient_id"])
}

func TestNotificationRepo_CreateDuplicateIsConflict(t *testing.T) {
	db := &fakeDB{putErr: &types.ConditionalCheckFailedException{}}
	repo := NewNotificationRepo(db, "notifications")

	err := repo.Create(context.Background(), &domain.Notification{NotificationID: "n1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestNotificationRepo_SaveChecksVersion(t *testing.T) {
	db := &fakeDB{putErr: &types.ConditionalCheckFailedException{Item: map[string]types.AttributeValue{"version": numValue(4)}}}
	repo := NewNotificationRepo(db, "notifications")

	err := repo.Save(context.Background(), &domain.Notification{NotificationID: "n1", Version: 4}, 3)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	require.Len(t, db.puts, 1)
	assert.Equal(t, numValue(3), db.puts[0].ExpressionAttributeValues[":expected"])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, db.puts[0].ReturnValuesOnConditionCheckFailure)
}

func TestNotificationRepo_GetMissing(t *testing.T) {
	repo := NewNotificationRepo(&fakeDB{}, "notifications")
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotificationRepo_ListUsesCampaignIndexAcrossPages(t *testing.T) {
	db := &fakeDB{pages: []*dynamodb.QueryOutput{
		{
			Items: []map[string]types.AttributeValue{
				mustMarshal(t, domain.Notification{NotificationID: "c1-2", CampaignID: "c1", Status: domain.StatusQueued}),
				mustMarshal(t, domain.Notification{NotificationID: "c1-0", CampaignID: "c1", Status: domain.StatusSent}),
			},
			LastEvaluatedKey: strKey("notification_id", "c1-0"),
		},
		{
			Items: []map[string]types.AttributeValue{
				mustMarshal(t, domain.Notification{NotificationID: "c1-1", CampaignID: "c1", Status: domain.StatusQueued}),
			},
		},
	}}
	repo := NewNotificationRepo(db, "notifications")

	out, err := repo.List(context.Background(), domain.NotificationFilter{CampaignID: "c1", Status: domain.StatusQueued})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c1-1", out[0].NotificationID)
	assert.Equal(t, "c1-2", out[1].NotificationID)

	require.Len(t, db.queries, 2)
	assert.Equal(t, campaignIndex, aws.ToString(db.queries[0].IndexName))
	assert.Nil(t, db.queries[0].ExclusiveStartKey)
	assert.NotNil(t, db.queries[1].ExclusiveStartKey)
}

func TestNotificationRepo_ListByRecipientHonorsLimit(t *testing.T) {
	db := &fakeDB{pages: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			mustMarshal(t, domain.Notification{NotificationID: "b", Recipient: domain.Recipient{ID: "p1"}}),
			mustMarshal(t, domain.Notification{NotificationID: "a", Recipient: domain.Recipient{ID: "p1"}}),
		},
	}}}
	repo := NewNotificationRepo(db, "notifications")

	out, err := repo.List(context.Background(), domain.NotificationFilter{RecipientID: "p1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].NotificationID)
	assert.Equal(t, recipientIndex, aws.ToString(db.queries[0].IndexName))
}

func TestTemplateRepo_SaveLeavesUsageAlone(t *testing.T) {
	db := &fakeDB{}
	repo := NewTemplateRepo(db, "templates")

	err := repo.Save(context.Background(), &domain.Template{TemplateID: "t1", Name: "flu", UsageCount: 99, Version: 3}, 2)
	require.NoError(t, err)
	require.Len(t, db.updates, 1)
	in := db.updates[0]
	assert.Equal(t, "attribute_exists(#pk) AND #ver = :expected", aws.ToString(in.ConditionExpression))
	assert.Equal(t, numValue(2), in.ExpressionAttributeValues[":expected"])
	for _, name := range in.ExpressionAttributeNames {
		assert.NotEqual(t, "usage_count", name)
		assert.NotEqual(t, "last_used", name)
	}
}

func TestTemplateRepo_AddUsage(t *testing.T) {
	db := &fakeDB{}
	repo := NewTemplateRepo(db, "templates")

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AddUsage(context.Background(), "t1", 5, at))
	require.Len(t, db.updates, 1)
	in := db.updates[0]
	assert.Equal(t, "ADD #cnt :n SET #last = :at", aws.ToString(in.UpdateExpression))
	assert.Equal(t, numValue(5), in.ExpressionAttributeValues[":n"])
}

func testEvent() domain.DeliveryEvent {
	return domain.DeliveryEvent{
		NotificationID: "n1",
		Channel:        domain.ChannelEmail,
		Kind:           domain.EventDelivered,
		Timestamp:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		CampaignID:     "c1",
	}
}

func TestStatsRepo_RecordNewEvent(t *testing.T) {
	db := &fakeDB{}
	repo := NewStatsRepo(db, "events", "stats")
	scopes := []domain.Scope{domain.CampaignScope("c1"), domain.GlobalScope()}

	res, err := repo.Record(context.Background(), testEvent(), scopes)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{ChannelNew: true, TotalNew: true}, res)

	require.Len(t, db.txs, 1)
	items := db.txs[0].TransactItems
	require.Len(t, items, 2+2*len(scopes))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "C#n1#EMAIL#delivered"}, items[0].Put.Item["event_key"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "T#n1#delivered"}, items[1].Put.Item["event_key"])
	assert.Equal(t, "delivered", items[2].Update.ExpressionAttributeNames["#k"])
	assert.Equal(t, compositeKey("scope", "campaign:c1", "dimension", "EMAIL"), items[2].Update.Key)
	assert.Equal(t, compositeKey("scope", "campaign:c1", "dimension", domain.AllChannelsKey), items[3].Update.Key)
}

func TestStatsRepo_RecordDuplicateIsNoop(t *testing.T) {
	db := &fakeDB{txErrs: []error{canceled("ConditionalCheckFailed", "None", "None", "None")}}
	repo := NewStatsRepo(db, "events", "stats")

	res, err := repo.Record(context.Background(), testEvent(), []domain.Scope{domain.GlobalScope()})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{}, res)
	assert.Len(t, db.txs, 1)
}

func TestStatsRepo_RecordSecondChannelSkipsTotals(t *testing.T) {
	db := &fakeDB{txErrs: []error{canceled("None", "ConditionalCheckFailed", "None", "None")}}
	repo := NewStatsRepo(db, "events", "stats")

	res, err := repo.Record(context.Background(), testEvent(), []domain.Scope{domain.GlobalScope()})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResult{ChannelNew: true}, res)

	require.Len(t, db.txs, 2)
	retry := db.txs[1].TransactItems
	require.Len(t, retry, 2)
	assert.Equal(t, compositeKey("scope", "global", "dimension", "EMAIL"), retry[1].Update.Key)
}

func TestStatsRepo_RecordPropagatesOtherErrors(t *testing.T) {
	db := &fakeDB{txErrs: []error{errors.New("throttled")}}
	repo := NewStatsRepo(db, "events", "stats")

	_, err := repo.Record(context.Background(), testEvent(), []domain.Scope{domain.GlobalScope()})
	assert.ErrorContains(t, err, "throttled")
}

func TestStatsRepo_Counters(t *testing.T) {
	db := &fakeDB{pages: []*dynamodb.QueryOutput{{
		Items: []map[string]types.AttributeValue{
			mustMarshal(t, counterRow{Scope: "global", Dimension: "EMAIL", Counters: domain.Counters{Sent: 4, Delivered: 3}}),
			mustMarshal(t, counterRow{Scope: "global", Dimension: domain.AllChannelsKey, Counters: domain.Counters{Sent: 4}}),
		},
	}}}
	repo := NewStatsRepo(db, "events", "stats")

	got, err := repo.Counters(context.Background(), domain.GlobalScope())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got["EMAIL"].Delivered)
	assert.Equal(t, int64(4), got[domain.AllChannelsKey].Sent)
	assert.Equal(t, aws.String("stats"), db.queries[0].TableName)
}

func TestBootstrap_IgnoresExistingTables(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	db := &fakeDB{createErr: map[string]error{
		"templates": &types.ResourceInUseException{},
		"stats":     errors.New("access denied"),
	}}
	tables := config.DynamoTables{
		Templates:     "templates",
		Notifications: "notifications",
		Campaigns:     "campaigns",
		Events:        "events",
		Stats:         "stats",
	}

	Bootstrap(context.Background(), db, tables, zap.New(core))

	assert.Equal(t, []string{"templates", "notifications", "campaigns", "events", "stats"}, db.created)
	assert.Equal(t, 3, logs.FilterMessage("created table").Len())
	assert.Equal(t, 1, logs.FilterMessage("could not create table").Len())
}
