package repository

import (
	"context"
	"errors"

	"community_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomRepository definition chat room
type RoomRepository interface {
	// CreateRoom pair_key 重複時回傳 domain.ErrDuplicateKey
	CreateRoom(ctx context.Context, room *domain.ChatRoom) error
	FindByID(ctx context.Context, roomID string) (*domain.ChatRoom, error)
	// FindPrivateRooms 依 created_at, _id 由舊到新
	FindPrivateRooms(ctx context.Context, pairKey string) ([]domain.ChatRoom, error)
	// UpsertGroupRoom 不存在時建立, created=true 代表這次建立
	UpsertGroupRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error)
	FindByMember(ctx context.Context, userID string) ([]domain.ChatRoom, error)
	Archive(ctx context.Context, roomID string) error
	EnsureIndexes(ctx context.Context) error
}

type chatRepository struct {
	roomsColl *mongo.Collection
}

// NewMongoChatRepository create new mongo chat
func NewMongoChatRepository(db *mongo.Database) RoomRepository {
	return &chatRepository{
		roomsColl: db.Collection(domain.RoomCollection),
	}
}

// EnsureIndexes private room 的 pair_key 唯一
func (r *chatRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.roomsColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_pair_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "members", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("members_created_at"),
		},
	})
	return err
}

// CreateRoom create room
func (r *chatRepository) CreateRoom(ctx context.Context, room *domain.ChatRoom) error {
	_, err := r.roomsColl.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateKey
	}
	return err
}

// FindByID find room by id
func (r *chatRepository) FindByID(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	var room domain.ChatRoom
	err := r.roomsColl.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindPrivateRooms find private room by sorted pair
func (r *chatRepository) FindPrivateRooms(ctx context.Context, pairKey string) ([]domain.ChatRoom, error) {
	filter := bson.M{
		"room_type": domain.ChatRoomTypePrivate,
		"pair_key":  pairKey,
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

// UpsertGroupRoom $setOnInsert 讓多個 node 同時建立也只會有一筆
func (r *chatRepository) UpsertGroupRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	res, err := r.roomsColl.UpdateOne(ctx,
		bson.M{"_id": room.ID},
		bson.M{"$setOnInsert": bson.M{
			"room_type":  room.RoomType,
			"archived":   false,
			"created_at": room.CreatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// 兩個 upsert 同時 insert, 輸的一方重讀即可
		existing, ferr := r.FindByID(ctx, room.ID)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, err
	}

	existing, err := r.FindByID(ctx, room.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, res.UpsertedCount == 1, nil
}

// FindByMember private rooms of user, newest first
func (r *chatRepository) FindByMember(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	return r.find(ctx, bson.M{"members": userID}, opts)
}

// Archive soft archive, 不刪除
func (r *chatRepository) Archive(ctx context.Context, roomID string) error {
	res, err := r.roomsColl.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$set": bson.M{"archived": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *chatRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.ChatRoom, error) {
	cur, err := r.roomsColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	rooms := make([]domain.ChatRoom, 0)
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}
