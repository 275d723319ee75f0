package store

import (
	"context"
	"errors"
	"time"

	"github.com/authgate/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UsersCollection is the collection holding user documents.
const UsersCollection = "users"

type mongoUser struct {
	ID               primitive.ObjectID `bson:"_id,omitempty"`
	Name             string             `bson:"name"`
	Email            string             `bson:"email"`
	PasswordHash     string             `bson:"password_hash"`
	ProfilePic       string             `bson:"profile_pic,omitempty"`
	ResetTokenHash   string             `bson:"reset_token_hash,omitempty"`
	ResetTokenExpiry time.Time          `bson:"reset_token_expiry,omitempty"`
	CreatedAt        time.Time          `bson:"created_at"`
	UpdatedAt        time.Time          `bson:"updated_at"`
}

func (d mongoUser) toUser() types.User {
	return types.User{
		ID:               d.ID.Hex(),
		Name:             d.Name,
		Email:            d.Email,
		PasswordHash:     d.PasswordHash,
		ProfilePic:       d.ProfilePic,
		ResetTokenHash:   d.ResetTokenHash,
		ResetTokenExpiry: d.ResetTokenExpiry,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// MongoUserRepository handles persistence for users in MongoDB.
type MongoUserRepository struct {
	col *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{col: db.Collection(UsersCollection)}
}

// EnsureIndexes creates the unique email index and the reset token lookup index.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
		{
			Keys:    bson.D{{Key: "reset_token_hash", Value: 1}},
			Options: options.Index().SetSparse(true).SetName("reset_token_hash"),
		},
	})
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return types.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	doc := mongoUser{
		ID:           primitive.NewObjectID(),
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		ProfilePic:   user.ProfilePic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return types.User{}, ErrNotFound
	}

	set := bson.M{
		"name":       user.Name,
		"email":      user.Email,
		"updated_at": time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if user.ProfilePic != "" {
		set["profile_pic"] = user.ProfilePic
	} else {
		update["$unset"] = bson.M{"profile_pic": ""}
	}

	var doc mongoUser
	err = r.col.FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return types.User{}, mapMongoError(err)
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiry time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	update := bson.M{
		"$set": bson.M{
			"reset_token_hash":   tokenHash,
			"reset_token_expiry": expiry.UTC(),
			"updated_at":         time.Now().UTC(),
		},
	}
	result, err := r.col.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeResetToken swaps in passwordHash for the holder of an unexpired
// reset token and unsets the token in one atomic document update.
func (r *MongoUserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	filter := bson.M{
		"reset_token_hash":   tokenHash,
		"reset_token_expiry": bson.M{"$gt": now.UTC()},
	}
	update := bson.M{
		"$set": bson.M{
			"password_hash": passwordHash,
			"updated_at":    now.UTC(),
		},
		"$unset": bson.M{
			"reset_token_hash":   "",
			"reset_token_expiry": "",
		},
	}

	var doc mongoUser
	err := r.col.FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return types.User{}, mapMongoError(err)
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc mongoUser
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		return types.User{}, mapMongoError(err)
	}
	return doc.toUser(), nil
}

func mapMongoError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}
