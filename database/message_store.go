package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"crm-chat/backend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	messagesCollection = "messages"
	countersCollection = "counters"
	cursorsCollection  = "read_cursors"

	storeTimeout = 5 * time.Second
)

// MongoMessageStore keeps messages in one collection and hands out per-room
// sequence numbers from a counters collection.
type MongoMessageStore struct {
	messages *mongo.Collection
	counters *mongo.Collection
	cursors  *mongo.Collection
}

// NewMongoMessageStore prepares the collections and their indexes.
func NewMongoMessageStore(ctx context.Context, db *mongo.Database) (*MongoMessageStore, error) {
	s := &MongoMessageStore{
		messages: db.Collection(messagesCollection),
		counters: db.Collection(countersCollection),
		cursors:  db.Collection(cursorsCollection),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// seq is unique inside a room and drives every listing.
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create messages index: %w", err)
	}
	log.Println("Index {roomId, seq} ensured for messages collection.")

	_, err = s.cursors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}, {Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create read_cursors index: %w", err)
	}
	return s, nil
}

func (s *MongoMessageStore) nextSeq(ctx context.Context, roomID string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": roomID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next seq for room %s: %w", roomID, err)
	}
	return counter.Seq, nil
}

func (s *MongoMessageStore) Append(ctx context.Context, roomID string, msg models.Message) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	seq, err := s.nextSeq(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}

	msg.ID = primitive.NewObjectID().Hex()
	msg.RoomID = roomID
	msg.Seq = seq
	// Arrays must exist for $push and $addToSet.
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		log.Printf("Error inserting message into room %s: %v", roomID, err)
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *MongoMessageStore) Get(ctx context.Context, messageID string) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var msg models.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, models.NewError(models.CodeNotFound, "message %s not found", messageID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("find message %s: %w", messageID, err)
	}
	return msg, nil
}

// updateOne applies update to the message matching filter. When nothing
// matches, the current document is returned instead so callers can tell an
// unknown id from an update whose guard did not hold.
func (s *MongoMessageStore) updateOne(ctx context.Context, messageID string, filter, update bson.M) (models.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var msg models.Message
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg)
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, false, fmt.Errorf("update message %s: %w", messageID, err)
	}

	current, err := s.Get(ctx, messageID)
	return current, false, err
}

func (s *MongoMessageStore) MarkEdited(ctx context.Context, messageID, content string, at time.Time) (models.Message, error) {
	msg, applied, err := s.updateOne(ctx, messageID,
		bson.M{"_id": messageID, "deleted": false},
		bson.M{"$set": bson.M{"content": content, "isEdited": true, "editedAt": at}},
	)
	if err != nil {
		return models.Message{}, err
	}
	if !applied {
		return models.Message{}, models.NewError(models.CodeNotFound, "message %s was deleted", messageID)
	}
	return msg, nil
}

func (s *MongoMessageStore) MarkDeleted(ctx context.Context, messageID string, at time.Time) (models.Message, error) {
	msg, _, err := s.updateOne(ctx, messageID,
		bson.M{"_id": messageID, "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "deletedAt": at}},
	)
	return msg, err
}

func (s *MongoMessageStore) AddReaction(ctx context.Context, messageID string, reaction models.Reaction) (models.Message, error) {
	msg, _, err := s.updateOne(ctx, messageID,
		bson.M{
			"_id":       messageID,
			"reactions": bson.M{"$not": bson.M{"$elemMatch": bson.M{"userId": reaction.UserID, "emoji": reaction.Emoji}}},
		},
		bson.M{"$push": bson.M{"reactions": reaction}},
	)
	return msg, err
}

func (s *MongoMessageStore) MarkRead(ctx context.Context, messageID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$addToSet": bson.M{"readBy": userID}},
	)
	if err != nil {
		return fmt.Errorf("mark message %s read: %w", messageID, err)
	}
	if res.MatchedCount == 0 {
		return models.NewError(models.CodeNotFound, "message %s not found", messageID)
	}
	return nil
}

func (s *MongoMessageStore) ListSince(ctx context.Context, roomID string, cursor int64, limit int) ([]models.Message, error) {
	filter := bson.M{"roomId": roomID, "seq": bson.M{"$gt": cursor}}
	return s.find(ctx, roomID, filter, 1, limit)
}

func (s *MongoMessageStore) ListBefore(ctx context.Context, roomID string, cursor int64, limit int) ([]models.Message, error) {
	filter := bson.M{"roomId": roomID}
	if cursor > 0 {
		filter["seq"] = bson.M{"$lt": cursor}
	}
	return s.find(ctx, roomID, filter, -1, limit)
}

func (s *MongoMessageStore) find(ctx context.Context, roomID string, filter bson.M, order, limit int) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	findOptions := options.Find().SetSort(bson.D{{Key: "seq", Value: order}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, filter, findOptions)
	if err != nil {
		log.Printf("Error finding messages for room %s: %v", roomID, err)
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []models.Message{}
	if err = cursor.All(ctx, &messages); err != nil {
		log.Printf("Error decoding messages for room %s: %v", roomID, err)
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

func (s *MongoMessageStore) SaveReadCursor(ctx context.Context, roomID, userID string, seq int64) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.cursors.UpdateOne(ctx,
		bson.M{"roomId": roomID, "userId": userID},
		bson.M{
			"$max": bson.M{"seq": seq},
			"$set": bson.M{"updatedAt": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save read cursor of %s in room %s: %w", userID, roomID, err)
	}
	return nil
}

func (s *MongoMessageStore) ReadCursors(ctx context.Context, roomID string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	cursor, err := s.cursors.Find(ctx, bson.M{"roomId": roomID})
	if err != nil {
		return nil, fmt.Errorf("find read cursors for room %s: %w", roomID, err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		UserID string `bson:"userId"`
		Seq    int64  `bson:"seq"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode read cursors: %w", err)
	}
	out := make(map[string]int64, len(docs))
	for _, d := range docs {
		out[d.UserID] = d.Seq
	}
	return out, nil
}
