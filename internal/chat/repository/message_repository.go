package repository

import (
	"context"
	"errors"

	"community_chat_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository definition chat message store
// 房間內排序以 seq 為準, seq 由 room_sequences 的 counter 產生
type MessageRepository interface {
	// NextSeq 原子遞增房間序號, 第一則為 1
	NextSeq(ctx context.Context, roomID string) (int64, error)
	// Insert (room_id, seq) 或 dedup token 重複時回傳 domain.ErrDuplicateKey
	Insert(ctx context.Context, msg *domain.ChatMessage) error
	FindByDedupToken(ctx context.Context, roomID, senderID, token string) (*domain.ChatMessage, error)
	FindByID(ctx context.Context, roomID, messageID string) (*domain.ChatMessage, error)
	// FindAfter seq > afterSeq, 依 seq 由小到大
	FindAfter(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.ChatMessage, error)
	EnsureIndexes(ctx context.Context) error
}

type chatMessageRepository struct {
	coll    *mongo.Collection
	seqColl *mongo.Collection
}

// NewMongoChatMessageRepository create a ChatMessageRepository
func NewMongoChatMessageRepository(db *mongo.Database) MessageRepository {
	return &chatMessageRepository{
		coll:    db.Collection(domain.MessageCollection),
		seqColl: db.Collection(domain.SequenceCollection),
	}
}

// EnsureIndexes 建立 seq 與 dedup token 唯一索引
func (r *chatMessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("uniq_room_seq").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("uniq_message_id").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "dedup_token", Value: 1}},
			Options: options.Index().
				SetName("uniq_dedup_token").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"dedup_token": bson.M{"$type": "string"}}),
		},
	})
	return err
}

// NextSeq $inc counter document
func (r *chatMessageRepository) NextSeq(ctx context.Context, roomID string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	err := r.seqColl.FindOneAndUpdate(ctx,
		bson.M{"_id": roomID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

// Insert - 寫入一筆聊天訊息
func (r *chatMessageRepository) Insert(ctx context.Context, msg *domain.ChatMessage) error {
	_, err := r.coll.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateKey
	}
	return err
}

// FindByDedupToken 找不到回傳 nil, nil
func (r *chatMessageRepository) FindByDedupToken(ctx context.Context, roomID, senderID, token string) (*domain.ChatMessage, error) {
	filter := bson.M{"room_id": roomID, "sender_id": senderID, "dedup_token": token}
	var msg domain.ChatMessage
	err := r.coll.FindOne(ctx, filter).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindByID find message in room
func (r *chatMessageRepository) FindByID(ctx context.Context, roomID, messageID string) (*domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := r.coll.FindOne(ctx, bson.M{"room_id": roomID, "id": messageID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindAfter 依 seq 升序分頁
func (r *chatMessageRepository) FindAfter(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.ChatMessage, error) {
	filter := bson.M{
		"room_id": roomID,
		"seq":     bson.M{"$gt": afterSeq},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	messages := make([]domain.ChatMessage, 0, limit)
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
