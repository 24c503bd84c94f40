package status

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ChatSync/tools/errs"
)

const statusColl = "message_statuses"

// MongoStore is the document Store backend. FindOneAndUpdate with the
// current status in the filter gives the same compare-and-swap as the
// relational conditional UPDATE.
type MongoStore struct {
	coll *mongo.Collection
}

type statusDoc struct {
	MessageID   string     `bson:"message_id"`
	UserID      string     `bson:"user_id"`
	Status      string     `bson:"status"`
	SentAt      time.Time  `bson:"sent_at"`
	DeliveredAt *time.Time `bson:"delivered_at,omitempty"`
	ReadAt      *time.Time `bson:"read_at,omitempty"`
}

func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	coll := db.Collection(statusColl)
	// one row per (message, recipient)
	_, err := coll.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure status index")
	}
	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) Create(ctx context.Context, messageID, userID string, sentAt time.Time) error {
	doc := statusDoc{
		MessageID: messageID,
		UserID:    userID,
		Status:    string(StatusSent),
		SentAt:    sentAt,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "insert status")
}

func (s *MongoStore) Get(ctx context.Context, messageID, userID string) (Record, error) {
	var doc statusDoc
	err := s.coll.FindOne(ctx, bson.M{
		"message_id": messageID, "user_id": userID,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, errs.ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "find status")
	}
	return Record{
		MessageID:   doc.MessageID,
		UserID:      doc.UserID,
		Status:      Status(doc.Status),
		SentAt:      doc.SentAt,
		DeliveredAt: doc.DeliveredAt,
		ReadAt:      doc.ReadAt,
	}, nil
}

func (s *MongoStore) Apply(ctx context.Context, messageID, userID string, ch Change) error {
	set := bson.M{"status": string(ch.To)}
	if ch.DeliveredAt != nil {
		set["delivered_at"] = *ch.DeliveredAt
	}
	if ch.ReadAt != nil {
		set["read_at"] = *ch.ReadAt
	}
	res := s.coll.FindOneAndUpdate(ctx, bson.M{
		"message_id": messageID,
		"user_id":    userID,
		"status":     string(ch.From),
	}, bson.M{"$set": set})
	err := res.Err()
	if err == nil {
		return nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Wrap(err, "update status")
	}
	n, cerr := s.coll.CountDocuments(ctx, bson.M{"message_id": messageID, "user_id": userID})
	if cerr != nil {
		return errors.Wrap(cerr, "recheck status doc")
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return errs.ErrConflict
}
