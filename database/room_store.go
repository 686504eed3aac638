package database

import (
	"context"
	"fmt"
	"time"

	"crm-chat/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const chatroomsCollection = "chatrooms"

// MongoRoomStore upserts whole room documents keyed by room id.
type MongoRoomStore struct {
	rooms *mongo.Collection
}

func NewMongoRoomStore(db *mongo.Database) *MongoRoomStore {
	return &MongoRoomStore{rooms: db.Collection(chatroomsCollection)}
}

func (s *MongoRoomStore) SaveRoom(ctx context.Context, room models.Room) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.rooms.ReplaceOne(ctx, bson.M{"_id": room.ID}, room, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save room %s: %w", room.ID, err)
	}
	return nil
}

func (s *MongoRoomStore) TouchRoom(ctx context.Context, roomID, lastMessageID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{
			"$set": bson.M{"lastMessageId": lastMessageID},
			"$max": bson.M{"lastActivity": at},
		},
	)
	if err != nil {
		return fmt.Errorf("touch room %s: %w", roomID, err)
	}
	if res.MatchedCount == 0 {
		return models.NewError(models.CodeNotFound, "room %s not found", roomID)
	}
	return nil
}

func (s *MongoRoomStore) LoadRooms(ctx context.Context) ([]models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*storeTimeout)
	defer cancel()

	cursor, err := s.rooms.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find rooms: %w", err)
	}
	defer cursor.Close(ctx)

	var rooms []models.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}
