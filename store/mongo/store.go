// Package mongo implements store.Store on MongoDB. Ledger updates run
// inside a server-side multi-document transaction, which requires a
// replica set (a single-node replica set works for development).
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/credits"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
	creditstore "github.com/xraph/credits/store"
)

// Collection name constants.
const (
	colSessions      = "credits_sessions"
	colLedger        = "credits_ledger"
	colRateLimits    = "credits_rate_limits"
	colLoginAttempts = "credits_login_attempts"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB at uri and returns a Store over dbName.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("credits/mongo: ping: %w", err)
	}
	return New(client, dbName), nil
}

// New wraps an existing client.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{
		client: client,
		db:     client.Database(dbName),
	}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colSessions: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colLedger: {
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "generation_id", Value: 1}}},
		},
		colRateLimits: {
			{
				Keys:    bson.D{{Key: "identifier", Value: 1}, {Key: "endpoint", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for col, models := range indexes {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credits/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// withTxn runs fn inside a server-side transaction.
func (s *Store) withTxn(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: %w", credits.ErrTransactionFailed, err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.Collection(colSessions).InsertOne(ctx, toSessionModel(sess))
	if mongo.IsDuplicateKeyError(err) {
		return credits.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("credits/mongo: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sid id.SessionID) (*session.Session, error) {
	return s.getSession(ctx, sid)
}

func (s *Store) getSession(ctx context.Context, sid id.SessionID) (*session.Session, error) {
	var m sessionModel
	err := s.db.Collection(colSessions).
		FindOne(ctx, bson.M{"_id": sid.String()}).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, credits.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colSessions).DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$ne": nil, "$lt": before.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: purge sessions: %w", err)
	}
	return res.DeletedCount, nil
}

// ==================== Ledger Store ====================

func (s *Store) ListEntries(ctx context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error) {
	filter := bson.M{"session_id": sid.String()}
	if opts.GenerationID != "" {
		filter["generation_id"] = opts.GenerationID
	}
	if opts.Reason != "" {
		filter["reason"] = string(opts.Reason)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colLedger).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list entries: %w", err)
	}
	defer cur.Close(ctx)

	return decodeEntries(ctx, cur)
}

func (s *Store) UpdateLedger(ctx context.Context, sid id.SessionID, generationID string, fn creditstore.LedgerFunc) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		sess, err := s.getSession(ctx, sid)
		if err != nil {
			return err
		}

		var entries []*entry.Entry
		if generationID != "" {
			cur, err := s.db.Collection(colLedger).Find(ctx,
				bson.M{"session_id": sid.String(), "generation_id": generationID},
				options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
			)
			if err != nil {
				return fmt.Errorf("credits/mongo: load generation entries: %w", err)
			}
			entries, err = decodeEntries(ctx, cur)
			cur.Close(ctx)
			if err != nil {
				return err
			}
		}

		mut, err := fn(sess, entries)
		if err != nil {
			return err
		}
		if mut == nil {
			return nil
		}

		if mut.Session != nil {
			res, err := s.db.Collection(colSessions).ReplaceOne(ctx,
				bson.M{"_id": mut.Session.ID.String()},
				toSessionModel(mut.Session),
			)
			if err != nil {
				return fmt.Errorf("credits/mongo: update session: %w", err)
			}
			if res.MatchedCount == 0 {
				return credits.ErrSessionNotFound
			}
		}
		if len(mut.Append) > 0 {
			docs := make([]any, len(mut.Append))
			for i, e := range mut.Append {
				docs[i] = toEntryModel(e)
			}
			if _, err := s.db.Collection(colLedger).InsertMany(ctx, docs); err != nil {
				return fmt.Errorf("credits/mongo: append entries: %w", err)
			}
		}
		return nil
	})
}

// ==================== Rate limit Store ====================

func (s *Store) GetRateLimit(ctx context.Context, identifier, endpoint string) (*ratelimit.Record, error) {
	var m rateLimitModel
	err := s.db.Collection(colRateLimits).
		FindOne(ctx, bson.M{"identifier": identifier, "endpoint": endpoint}).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get rate limit: %w", err)
	}
	return fromRateLimitModel(&m), nil
}

func (s *Store) UpdateRateLimit(ctx context.Context, identifier, endpoint string, fn creditstore.RateLimitFunc) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		current, err := s.GetRateLimit(ctx, identifier, endpoint)
		if err != nil {
			return err
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = s.db.Collection(colRateLimits).ReplaceOne(ctx,
			bson.M{"identifier": upd.Identifier, "endpoint": upd.Endpoint},
			toRateLimitModel(upd),
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("credits/mongo: update rate limit: %w", err)
		}
		return nil
	})
}

// ==================== Lockout Store ====================

func (s *Store) GetLoginAttempts(ctx context.Context, ipHash string) (*lockout.Record, error) {
	var m lockoutModel
	err := s.db.Collection(colLoginAttempts).
		FindOne(ctx, bson.M{"_id": ipHash}).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get login attempts: %w", err)
	}
	return fromLockoutModel(&m), nil
}

func (s *Store) UpdateLoginAttempts(ctx context.Context, ipHash string, fn creditstore.LockoutFunc) error {
	return s.withTxn(ctx, func(ctx context.Context) error {
		current, err := s.GetLoginAttempts(ctx, ipHash)
		if err != nil {
			return err
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = s.db.Collection(colLoginAttempts).ReplaceOne(ctx,
			bson.M{"_id": upd.IPHash},
			toLockoutModel(upd),
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("credits/mongo: update login attempts: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteLoginAttempts(ctx context.Context, ipHash string) error {
	_, err := s.db.Collection(colLoginAttempts).DeleteOne(ctx, bson.M{"_id": ipHash})
	if err != nil {
		return fmt.Errorf("credits/mongo: delete login attempts: %w", err)
	}
	return nil
}

// ==================== Cursor decoding ====================

func decodeEntries(ctx context.Context, cur *mongo.Cursor) ([]*entry.Entry, error) {
	var result []*entry.Entry
	for cur.Next(ctx) {
		var m entryModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("credits/mongo: decode entry: %w", err)
		}
		e, err := fromEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, cur.Err()
}
