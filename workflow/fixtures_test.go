package workflow_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/config"
	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type fixture struct {
	t          *testing.T
	db         *gorm.DB
	ledger     *workflow.Ledger
	clock      *fixedClock
	logger     *logrus.Logger
	logs       *test.Hook
	instanceId int
}

func newFixture(t *testing.T, opts workflow.Options) *fixture {
	t.Helper()
	return newFixtureAt(t, "file:"+uuid.NewString()+"?mode=memory&cache=shared", opts)
}

// newFixtureAt is newFixture against the sqlite database named by dsn.
func newFixtureAt(t *testing.T, dsn string, opts workflow.Options) *fixture {
	t.Helper()
	db, err := config.OpenDatabase(config.DatabaseSettings{
		Driver: "sqlite",
		Name:   dsn,
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clock := &fixedClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	opts.Clock = clock

	f := &fixture{
		t:      t,
		db:     db,
		ledger: workflow.NewLedger(db, logger, opts),
		clock:  clock,
		logger: logger,
		logs:   hook,
	}
	f.instanceId = f.createInstance()
	return f
}

func (f *fixture) createInstance() int {
	f.t.Helper()
	instance := models.Instance{Description: "class"}
	require.NoError(f.t, f.db.Create(&instance).Error)
	return instance.ID
}

func (f *fixture) createStudent(instanceId int) *models.Student {
	f.t.Helper()
	student := models.Student{InstanceId: instanceId, Username: uuid.NewString()[:8]}
	require.NoError(f.t, f.db.Create(&student).Error)
	return &student
}

func (f *fixture) createShareType(configure func(*models.ShareType)) *models.ShareType {
	f.t.Helper()
	shareType := models.ShareType{
		Name:                     "Savings",
		WithdrawalLimitPeriod:    models.WithdrawalLimitPeriodMonthly,
		WithdrawalLimitLastReset: f.clock.now.AddDate(0, 0, -1),
	}
	if configure != nil {
		configure(&shareType)
	}
	require.NoError(f.t, f.db.Create(&shareType).Error)
	return &shareType
}

// createShare seeds a share for a new student in instanceId. A non-zero opening balance is
// posted as a deposit so the balance matches the ledger.
func (f *fixture) createShare(instanceId int, shareType *models.ShareType, opening string) *models.Share {
	f.t.Helper()
	student := f.createStudent(instanceId)
	share := models.Share{StudentId: student.ID, ShareTypeId: shareType.ID}
	require.NoError(f.t, f.db.Create(&share).Error)
	if opening != "" && !models.MustParseMoney(opening).IsZero() {
		_, err := f.ledger.Post(context.Background(), workflow.PostingRequest{
			ShareId: share.ID,
			Amount:  models.MustParseMoney(opening),
			Comment: "Opening balance",
		})
		require.NoError(f.t, err)
	}
	return f.share(share.ID)
}

func (f *fixture) share(id int) *models.Share {
	f.t.Helper()
	var share models.Share
	require.NoError(f.t, f.db.First(&share, id).Error)
	return &share
}

func (f *fixture) balance(id int) string {
	return f.share(id).Balance.String()
}

func (f *fixture) transactions(shareId int) []*models.Transaction {
	f.t.Helper()
	results, err := models.GetShareTransactions(f.db, shareId)
	require.NoError(f.t, err)
	return results
}

func (f *fixture) createProduct(instanceId int, cost string, limited bool, quantity int) *models.Product {
	f.t.Helper()
	product := models.Product{
		Name:              "Pencil",
		Cost:              models.MustParseMoney(cost),
		IsLimitedQuantity: limited,
		Quantity:          quantity,
	}
	require.NoError(f.t, f.db.Create(&product).Error)
	require.NoError(f.t, f.db.Create(&models.ProductInstance{ProductId: product.ID, InstanceId: instanceId}).Error)
	return &product
}

func (f *fixture) product(id int) *models.Product {
	f.t.Helper()
	var product models.Product
	require.NoError(f.t, f.db.First(&product, id).Error)
	return &product
}

func (f *fixture) createStock(instanceId int, value string, available int64) *models.Stock {
	f.t.Helper()
	stock := models.Stock{StockSymbol: "ACME", CurrentValue: models.MustParseMoney(value), AvailableShares: available}
	require.NoError(f.t, f.db.Create(&stock).Error)
	if instanceId > 0 {
		require.NoError(f.t, f.db.Create(&models.StockInstance{StockId: stock.ID, InstanceId: instanceId}).Error)
	}
	return &stock
}

func (f *fixture) stock(id int) *models.Stock {
	f.t.Helper()
	var stock models.Stock
	require.NoError(f.t, f.db.First(&stock, id).Error)
	return &stock
}

func (f *fixture) count(model any, query string, args ...any) int64 {
	f.t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(f.t, q.Count(&n).Error)
	return n
}

// requireBalanceIdentity checks Balance against the NewBalance of the share's latest Transaction.
func (f *fixture) requireBalanceIdentity(shareId int) {
	f.t.Helper()
	latest, err := models.LatestTransaction(f.db, shareId)
	require.NoError(f.t, err)
	want := models.ZeroMoney
	if latest != nil {
		want = latest.NewBalance
	}
	require.Equal(f.t, want.String(), f.balance(shareId), "share #%d balance drifted from its ledger", shareId)
}

// failOn makes every statement of the given kind against table fail with err.
func (f *fixture) failOn(kind string, table string, err error) {
	f.t.Helper()
	name := "test:fail_" + kind + "_" + table
	fn := func(db *gorm.DB) {
		if db.Statement.Table == table {
			db.AddError(err)
		}
	}
	switch kind {
	case "create":
		require.NoError(f.t, f.db.Callback().Create().Before("gorm:create").Register(name, fn))
	case "update":
		require.NoError(f.t, f.db.Callback().Update().Before("gorm:update").Register(name, fn))
	case "delete":
		require.NoError(f.t, f.db.Callback().Delete().Before("gorm:delete").Register(name, fn))
	default:
		f.t.Fatalf("unknown statement kind %q", kind)
	}
}
