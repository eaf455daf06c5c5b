package devicestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/viyulabs/presence-server/internal/models"
)

// ErrNotFound is returned when no record exists for a device ID.
var ErrNotFound = errors.New("device not found")

// Store defines the durable device-record operations used by the presence
// services.
type Store interface {
	FindByID(ctx context.Context, deviceID string) (*models.Device, error)
	FindAll(ctx context.Context) ([]models.Device, error)
	FindAllWithStatus(ctx context.Context, status models.DeviceStatus) ([]models.Device, error)
	// UpsertHeartbeat atomically creates or refreshes the record for an
	// accepted heartbeat: status becomes Online, lastSeen is updated, and
	// refreshable fields are taken from the heartbeat when present.
	UpsertHeartbeat(ctx context.Context, hb models.Heartbeat, seenAt time.Time) error
	UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client, nil
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	devices *mongo.Collection
}

// NewMongoStore creates a MongoStore over the given database and collection.
func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		devices: client.Database(database).Collection(collection),
	}
}

// EnsureIndexes creates the unique device-ID index. The uniqueness guarantee
// plus the atomic upsert is what keeps concurrent first heartbeats from
// producing duplicate records.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.devices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "deviceId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) FindByID(ctx context.Context, deviceID string) (*models.Device, error) {
	var device models.Device
	err := s.devices.FindOne(ctx, bson.M{"deviceId": deviceID}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *MongoStore) FindAll(ctx context.Context) ([]models.Device, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoStore) FindAllWithStatus(ctx context.Context, status models.DeviceStatus) ([]models.Device, error) {
	return s.find(ctx, bson.M{"status": status})
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Device, error) {
	cursor, err := s.devices.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var devices []models.Device
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// UpsertHeartbeat is a single atomic find-or-create plus update, never a
// read-modify-write, so concurrent heartbeats for the same device cannot
// lose updates or hit duplicate-key errors.
func (s *MongoStore) UpsertHeartbeat(ctx context.Context, hb models.Heartbeat, seenAt time.Time) error {
	set := bson.M{
		"status":   models.StatusOnline,
		"lastSeen": seenAt,
	}
	setOnInsert := bson.M{
		"block":      models.DefaultBlock,
		"department": models.DefaultDepartment,
		"lab":        models.DefaultLab,
	}

	if hb.RoomNo != "" {
		set["roomNo"] = hb.RoomNo
	} else {
		setOnInsert["roomNo"] = models.DefaultRoomNo
	}
	if hb.Type != "" {
		set["type"] = hb.Type
	} else {
		setOnInsert["type"] = models.DeviceTypePC
	}

	update := bson.M{
		"$set":         set,
		"$setOnInsert": setOnInsert,
	}

	_, err := s.devices.UpdateOne(ctx, bson.M{"deviceId": hb.DeviceID}, update,
		options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	result, err := s.devices.UpdateOne(ctx, bson.M{"deviceId": deviceID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
