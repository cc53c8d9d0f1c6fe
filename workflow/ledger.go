package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/config"
	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const moduleName = "workflow"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	// AtomicWorkflows runs purchase and stock trade steps in one DB transaction
	// instead of committing them separately and compensating on failure.
	AtomicWorkflows bool
	Clock           Clock
	Locker          ShareLocker
	Tracer          trace.Tracer
}

// Ledger is the transaction engine. It is the only writer of share balances,
// withdrawal counters and ledger Transactions.
type Ledger struct {
	db              *gorm.DB
	logger          *logrus.Logger
	clock           Clock
	locker          ShareLocker
	tracer          trace.Tracer
	validate        *validator.Validate
	atomicWorkflows bool
}

func NewLedger(db *gorm.DB, logger *logrus.Logger, opts Options) *Ledger {
	l := &Ledger{
		db:              db,
		logger:          logger,
		clock:           opts.Clock,
		locker:          opts.Locker,
		tracer:          opts.Tracer,
		validate:        validator.New(),
		atomicWorkflows: opts.AtomicWorkflows,
	}
	if l.logger == nil {
		l.logger = logrus.New()
	}
	if l.clock == nil {
		l.clock = systemClock{}
	}
	if l.locker == nil {
		l.locker = NoopShareLocker{}
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer("studentbank-ledger")
	}
	return l
}

// inTransaction runs fn in one DB transaction; storage failures come back as *models.DatabaseError.
func (l *Ledger) inTransaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := l.db.WithContext(ctx).Transaction(fn)
	return models.WrapDatabaseError(op, err)
}

func (l *Ledger) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "Ledger."+name)
}

func (l *Ledger) finish(span trace.Span, funcName string, data any, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(l.logger, moduleName, funcName, "operation failed", data, err)
	}
	span.End()
}
