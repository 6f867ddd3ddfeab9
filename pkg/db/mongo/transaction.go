package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	labelTransientTransaction = "TransientTransactionError"
	labelUnknownCommitResult  = "UnknownTransactionCommitResult"

	codeWriteConflict      = 112
	codeLockTimeout        = 24
	codeNoSuchTransaction  = 251
	codeExceededTimeLimit  = 262
	codeMaxTimeMSExpired   = 50
	codeInterruptedAtStart = 11600

	maxCommitAttempts = 5
)

type TransactionFunc func(ctx mongo.SessionContext) error

type TransactionManager interface {
	// ExecuteTransaction runs fn inside a single snapshot transaction attempt.
	// Only the commit is retried, and only while its outcome is unknown; callers
	// classify the returned error with IsTransient.
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client *mongo.Client
	opts   *options.TransactionOptions
}

func NewTransactionManager(client *mongo.Client) TransactionManager {
	return &mongoTransactionManager{
		client: client,
		opts: options.Transaction().
			SetReadConcern(readconcern.Snapshot()).
			SetWriteConcern(writeconcern.Majority()),
	}
}

func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	// ctx may already be expired here; cleanup must still reach the server.
	cleanupCtx := context.WithoutCancel(ctx)
	defer session.EndSession(cleanupCtx)

	if err := session.StartTransaction(m.opts); err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	sessCtx := mongo.NewSessionContext(ctx, session)
	if err := fn(sessCtx); err != nil {
		_ = session.AbortTransaction(cleanupCtx)
		return err
	}

	if err := commitWithRetry(sessCtx, session.CommitTransaction); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// commitWithRetry repeats commit while the server reports an unknown commit
// result. Committing again is safe: the server applies the transaction once.
func commitWithRetry(ctx context.Context, commit func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = commit(ctx)
		if err == nil || !hasLabel(err, labelUnknownCommitResult) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

// IsTransient reports whether err is a contention, timeout or network failure
// after which re-running the whole transaction may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if hasLabel(err, labelTransientTransaction) || hasLabel(err, labelUnknownCommitResult) {
		return true
	}

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range []int{codeWriteConflict, codeLockTimeout, codeNoSuchTransaction, codeExceededTimeLimit, codeMaxTimeMSExpired, codeInterruptedAtStart} {
			if serverErr.HasErrorCode(code) {
				return true
			}
		}
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
