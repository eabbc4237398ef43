package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ukydev/freight-ledger/internal/apperr"
	"github.com/ukydev/freight-ledger/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	TripsCollection = "trips"
	UsersCollection = "users"
)

// ConnectMongo connects to MongoDB at uri with the decimal-aware registry.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(NewRegistry()))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique trip_id
// index is what turns a racing duplicate allocation into ErrDuplicateTripID.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(TripsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "trip_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("trip_id_unique")},
		{Keys: bson.D{{Key: "created_at", Value: -1}}, Options: options.Index().SetName("created_at_desc")},
		{Keys: bson.D{{Key: "motor_owner_mobile", Value: 1}}, Options: options.Index().SetName("motor_owner_mobile")},
	})
	if err != nil {
		return fmt.Errorf("create trip indexes: %w", err)
	}
	_, err = database.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

// MongoTripCollection implements TripStore on a MongoDB collection.
type MongoTripCollection struct {
	Collection *mongo.Collection
}

// NewMongoTripCollection returns the trip store for database.
func NewMongoTripCollection(database *mongo.Database) *MongoTripCollection {
	return &MongoTripCollection{Collection: database.Collection(TripsCollection)}
}

// InsertTrip inserts a trip record into the collection.
func (c *MongoTripCollection) InsertTrip(ctx context.Context, trip models.Trip) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.InsertOne(ctx, trip)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateTripID, trip.TripID)
	}
	return err
}

// FindTripByID finds a trip by its trip_id.
func (c *MongoTripCollection) FindTripByID(ctx context.Context, tripID string) (*models.Trip, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var trip models.Trip
	err := c.Collection.FindOne(ctx, bson.M{"trip_id": tripID}).Decode(&trip)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(tripID)
		}
		return nil, err
	}
	return &trip, nil
}

// FindTrips queries trip records, newest first.
func (c *MongoTripCollection) FindTrips(ctx context.Context, filter TripFilter) (TripCursor, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := c.Collection.Find(ctx, filterDocument(filter), opts)
	if err != nil {
		return nil, err
	}
	return &mongoTripCursor{cursor: cursor}, nil
}

func filterDocument(f TripFilter) bson.M {
	q := bson.M{}
	if f.MotorOwnerMobile != nil {
		q["motor_owner_mobile"] = *f.MotorOwnerMobile
	}
	dates := bson.M{}
	if f.Loading.From != "" {
		dates["$gte"] = f.Loading.From
	}
	if f.Loading.To != "" {
		dates["$lt"] = f.Loading.To
	}
	if len(dates) > 0 {
		q["loading_date"] = dates
	}
	return q
}

// ApplyTripUpdate reads the trip, lets mutate compute the change set and
// writes it only if no other write landed in between. A lost race re-reads
// and re-runs mutate.
func (c *MongoTripCollection) ApplyTripUpdate(ctx context.Context, tripID string, mutate TripMutation) (*models.Trip, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := c.FindTripByID(ctx, tripID)
		if err != nil {
			return nil, err
		}
		rev := current.Revision
		next := *current
		changes, err := mutate(&next)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			return current, nil
		}
		next.Revision = rev + 1
		changes["revision"] = next.Revision

		res, err := c.Collection.UpdateOne(ctx, revisionFilter(tripID, rev), bson.M{"$set": changes})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return &next, nil
		}
	}
	return nil, fmt.Errorf("trip %s: %w", tripID, apperr.ErrConcurrentUpdate)
}

// revisionFilter matches documents written before revisions existed as
// revision 0.
func revisionFilter(tripID string, rev int64) bson.M {
	if rev == 0 {
		return bson.M{"trip_id": tripID, "revision": bson.M{"$in": bson.A{int64(0), nil}}}
	}
	return bson.M{"trip_id": tripID, "revision": rev}
}

// SetTripPOD records the storage key of the trip's proof of delivery.
func (c *MongoTripCollection) SetTripPOD(ctx context.Context, tripID, key string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	res, err := c.Collection.UpdateOne(ctx,
		bson.M{"trip_id": tripID},
		bson.M{"$set": bson.M{"pod_filename": key}, "$inc": bson.M{"revision": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound(tripID)
	}
	return nil
}

// DeleteTrip deletes a trip by its trip_id.
func (c *MongoTripCollection) DeleteTrip(ctx context.Context, tripID string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	res, err := c.Collection.DeleteOne(ctx, bson.M{"trip_id": tripID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound(tripID)
	}
	return nil
}

// MaxTripSequence scans the identifiers of year and returns the largest
// sequence number among them.
func (c *MongoTripCollection) MaxTripSequence(ctx context.Context, year int) (int, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	prefix := "^" + regexp.QuoteMeta(strconv.Itoa(year)+"_")
	cursor, err := c.Collection.Find(ctx,
		bson.M{"trip_id": bson.M{"$regex": prefix}},
		options.Find().SetProjection(bson.M{"trip_id": 1, "_id": 0}),
	)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	highest := 0
	for cursor.Next(ctx) {
		var doc struct {
			TripID string `bson:"trip_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return 0, err
		}
		if _, seq, err := models.ParseTripID(doc.TripID); err == nil && seq > highest {
			highest = seq
		}
	}
	return highest, cursor.Err()
}

// Ping checks the connection behind the collection.
func (c *MongoTripCollection) Ping(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	return c.Collection.Database().Client().Ping(ctx, readpref.Primary())
}

// mongoTripCursor wraps a MongoDB cursor for trip queries.
type mongoTripCursor struct {
	cursor *mongo.Cursor
}

func (m *mongoTripCursor) Next(ctx context.Context) bool {
	return m.cursor.Next(ctx)
}

func (m *mongoTripCursor) Decode(trip *models.Trip) error {
	return m.cursor.Decode(trip)
}

func (m *mongoTripCursor) Err() error {
	return m.cursor.Err()
}

func (m *mongoTripCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}
