package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []models.LedgerEventMessage
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg models.LedgerEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func newDispatcher(f *fixture, publisher workflow.LedgerEventPublisher) *workflow.OutboxDispatcher {
	d := workflow.NewOutboxDispatcher(f.db, f.logger, publisher)
	d.Clock = f.clock
	return d
}

func (f *fixture) event(transactionId int) models.LedgerEventRecord {
	f.t.Helper()
	var event models.LedgerEventRecord
	require.NoError(f.t, f.db.Where("transaction_id = ?", transactionId).First(&event).Error)
	return event
}

func TestOutboxDispatcherPublishesPendingEventsOnce(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "5.00")
	txn, err := f.ledger.Post(context.Background(), workflow.PostingRequest{ShareId: share.ID, Amount: models.MustParseMoney("-2.00")})
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	d := newDispatcher(f, publisher)
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, publisher.messages, 2)
	assert.Equal(t, txn.ID, publisher.messages[1].TransactionId)
	assert.Equal(t, "3.00", publisher.messages[1].NewBalance.String())
	event := f.event(txn.ID)
	assert.Equal(t, models.LedgerEventPublishStatusSent, event.PublishStatus)
	require.NotNil(t, event.PubSubMessageId)
	assert.Equal(t, "msg-2", *event.PubSubMessageId)
	assert.Equal(t, 1, event.PublishAttempts)

	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestOutboxDispatcherBacksOffAfterFailure(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "5.00")
	txn := f.transactions(share.ID)[0]

	publisher := &recordingPublisher{err: errors.New("unavailable")}
	d := newDispatcher(f, publisher)
	_, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)

	event := f.event(txn.ID)
	assert.Equal(t, models.LedgerEventPublishStatusFailed, event.PublishStatus)
	require.NotNil(t, event.NextAttemptAt)
	assert.True(t, f.clock.now.Add(d.InitialBackoff).Equal(*event.NextAttemptAt))
	require.NotNil(t, event.LastPublishError)
	assert.Equal(t, "unavailable", *event.LastPublishError)

	publisher.err = nil
	sent, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent, "retry is not due yet")

	f.clock.now = f.clock.now.Add(d.InitialBackoff + time.Second)
	sent, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, models.LedgerEventPublishStatusSent, f.event(txn.ID).PublishStatus)
}

func TestOutboxDispatcherMarksEventDeadAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "5.00")
	txn := f.transactions(share.ID)[0]

	d := newDispatcher(f, &recordingPublisher{err: errors.New("forbidden")})
	d.MaxAttempts = 2
	for i := 0; i < 2; i++ {
		_, err := d.DispatchOnce(context.Background())
		require.NoError(t, err)
		f.clock.now = f.clock.now.Add(time.Hour)
	}

	event := f.event(txn.ID)
	assert.Equal(t, models.LedgerEventPublishStatusDead, event.PublishStatus)
	assert.Equal(t, 2, event.PublishAttempts)
}

func TestOutboxDispatcherLogsLostStatusWrites(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "5.00")
	txn := f.transactions(share.ID)[0]

	// only the SENT write fails; the claim still lands
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:fail_mark_sent", func(db *gorm.DB) {
		values, ok := db.Statement.Dest.(map[string]interface{})
		if db.Statement.Table == "ledger_event_records" && ok && values["publish_status"] == models.LedgerEventPublishStatusSent {
			db.AddError(errors.New("disk full"))
		}
	}))

	_, err := newDispatcher(f, &recordingPublisher{}).DispatchOnce(context.Background())
	require.NoError(t, err)

	event := f.event(txn.ID)
	assert.Equal(t, models.LedgerEventPublishStatusProcessing, event.PublishStatus)
	var logged *logrus.Entry
	for _, entry := range f.logs.AllEntries() {
		if entry.Level == logrus.ErrorLevel && strings.HasPrefix(entry.Message, "mark ledger event: ") {
			logged = entry
		}
	}
	require.NotNil(t, logged, "lost status write was not logged")
	assert.Equal(t, event.ID, logged.Data["record_id"])
	assert.Equal(t, models.LedgerEventPublishStatusSent, logged.Data["status"])
}
