// Package mongo stores rooms in a MongoDB collection. Writes are
// check-and-set on the room version, so concurrent transitions on one room
// never overwrite each other.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	maxAttempts = 16
	baseBackoff = 2 * time.Millisecond
)

var errContention = errors.New("room is being modified concurrently")

type roomDocument struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Kind      string    `bson:"room_type"`
	CreatedBy string    `bson:"create_by"`
	Admin     string    `bson:"admin"`
	Joined    []string  `bson:"joined_users"`
	Waiting   []string  `bson:"waiting_users"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	Version   int64     `bson:"version"`
}

func toDocument(r *domain.Room) roomDocument {
	return roomDocument{
		ID:        string(r.ID),
		Title:     r.Title,
		Kind:      string(r.Kind),
		CreatedBy: string(r.CreatedBy),
		Admin:     string(r.Admin),
		Joined:    userStrings(r.Joined),
		Waiting:   userStrings(r.Waiting),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}
}

func (d roomDocument) room() *domain.Room {
	return &domain.Room{
		ID:        domain.RoomID(d.ID),
		Title:     d.Title,
		Kind:      domain.RoomKind(d.Kind),
		CreatedBy: domain.UserID(d.CreatedBy),
		Admin:     domain.UserID(d.Admin),
		Joined:    userIDs(d.Joined),
		Waiting:   userIDs(d.Waiting),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Version:   d.Version,
	}
}

func userStrings(in []domain.UserID) []string {
	out := make([]string, len(in))
	for i, u := range in {
		out[i] = string(u)
	}
	return out
}

func userIDs(in []string) []domain.UserID {
	out := make([]domain.UserID, len(in))
	for i, u := range in {
		out[i] = domain.UserID(u)
	}
	return out
}

type Repository struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ core.RoomRepository = (*Repository)(nil)

func NewRepository(coll *mongo.Collection) *Repository {
	return &Repository{coll: coll, now: time.Now}
}

// Connect dials uri, checks the server is reachable and ensures the
// collection indexes. The caller owns the returned client.
func Connect(ctx context.Context, uri, database, collection string) (*Repository, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	repo := NewRepository(client.Database(database).Collection(collection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	log.Info().Str("module", "store.mongo").Str("database", database).Str("collection", collection).Msg("connected")
	return repo, client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "room_type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

func (r *Repository) load(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var doc roomDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", id, err)
	}
	return doc.room(), nil
}

func (r *Repository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return r.load(ctx, id)
}

func (r *Repository) Create(ctx context.Context, room *domain.Room) error {
	_, err := r.coll.InsertOne(ctx, toDocument(room))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("room %s already exists: %w", room.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert room %s: %w", room.ID, err)
	}
	return nil
}

// ConditionalUpdate reads the room, applies pred and mut, and replaces the
// document only if its version is still the one that was read. A lost race
// rereads and reapplies, up to maxAttempts times.
func (r *Repository) ConditionalUpdate(ctx context.Context, id domain.RoomID, pred core.RoomPredicate, mut core.RoomMutation) (*domain.Room, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			if err := pred(cur.Clone()); err != nil {
				return nil, err
			}
		}
		work := cur.Clone()
		if mut != nil {
			if err := mut(work); err != nil {
				if errors.Is(err, core.ErrNoChange) {
					return cur, nil
				}
				return nil, err
			}
		}
		work.Touch(r.now())

		res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": string(id), "version": cur.Version}, toDocument(work))
		if err != nil {
			return nil, fmt.Errorf("replace room %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return work, nil
		}
		log.Debug().Str("module", "store.mongo").Str("room", string(id)).Int("attempt", attempt).Msg("version moved, retrying")
		if err := backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update room %s: %w: %w", id, errContention, domain.ErrConflict)
}

func (r *Repository) Delete(ctx context.Context, id domain.RoomID, pred core.RoomPredicate) (*domain.Room, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cur, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			if err := pred(cur.Clone()); err != nil {
				return nil, err
			}
		}
		res, err := r.coll.DeleteOne(ctx, bson.M{"_id": string(id), "version": cur.Version})
		if err != nil {
			return nil, fmt.Errorf("delete room %s: %w", id, err)
		}
		if res.DeletedCount == 1 {
			return cur, nil
		}
		if err := backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("delete room %s: %w: %w", id, errContention, domain.ErrConflict)
}

// backoff waits a jittered, growing delay before the next attempt.
func backoff(ctx context.Context, attempt int) error {
	d := baseBackoff*time.Duration(attempt) + rand.N(baseBackoff)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Repository) List(ctx context.Context) ([]*domain.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	var docs []roomDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]*domain.Room, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.room())
	}
	return out, nil
}
