// Package database provides MongoDB storage for the article store.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/micronews/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps articles as documents keyed by their id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Ensure MongoStore implements Store interface.
var _ Store = (*MongoStore)(nil)

// articleDoc is the stored document shape. The store does not enforce it,
// so optional fields are pointers or nil-able slices.
type articleDoc struct {
	ID        string     `bson:"_id"`
	Title     string     `bson:"title"`
	Author    string     `bson:"author"`
	Content   string     `bson:"content"`
	Category  string     `bson:"category"`
	Date      string     `bson:"date"`
	Timestamp *time.Time `bson:"timestamp,omitempty"`
	Views     *int64     `bson:"views,omitempty"`
	Tags      []string   `bson:"tags,omitempty"`
}

func (d articleDoc) toModel() model.Article {
	a := model.Article{
		ID:        d.ID,
		Title:     d.Title,
		Author:    d.Author,
		Content:   d.Content,
		Category:  d.Category,
		Date:      d.Date,
		Timestamp: d.Timestamp,
		Tags:      d.Tags,
	}
	if d.Views != nil {
		a.Views = *d.Views
	}
	a.Normalize()
	return a
}

// NewMongo connects to uri and uses dbName.collection for articles.
// The client is meant to be created once per process and shared.
func NewMongo(ctx context.Context, uri, dbName, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection(collection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "date", Value: -1}}},
		{Keys: bson.D{{Key: "views", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "views", Value: -1}}},
	})
	return err
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// DatabaseType returns the database backend name.
func (s *MongoStore) DatabaseType() string {
	return "MongoDB"
}

// SupportsHighConcurrency returns true for MongoDB.
func (s *MongoStore) SupportsHighConcurrency() bool {
	return true
}

func (s *MongoStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	var doc articleDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find article %s: %w", id, err)
	}
	a := doc.toModel()
	return &a, nil
}

func (s *MongoStore) ListArticles(ctx context.Context, q Query) ([]model.Article, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	cur, err := s.coll.Aggregate(ctx, mongoPipeline(q))
	if err != nil {
		return nil, fmt.Errorf("find articles: %w", err)
	}
	var docs []articleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	articles := make([]model.Article, 0, len(docs))
	for _, d := range docs {
		articles = append(articles, d.toModel())
	}
	return articles, nil
}

func (s *MongoStore) CountArticles(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.D{})
}

func (s *MongoStore) IncrementViews(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "views", Value: int64(1)}}}},
	)
	if err != nil {
		return fmt.Errorf("increment views %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertArticle replaces the article fields and lets the server assign timestamp.
func (s *MongoStore) UpsertArticle(ctx context.Context, a *model.Article) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "title", Value: a.Title},
			{Key: "author", Value: a.Author},
			{Key: "content", Value: a.Content},
			{Key: "category", Value: a.Category},
			{Key: "date", Value: a.Date},
			{Key: "views", Value: int64(0)},
			{Key: "tags", Value: tags},
		}},
		{Key: "$currentDate", Value: bson.D{{Key: "timestamp", Value: true}}},
	}
	_, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: a.ID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert article %s: %w", a.ID, err)
	}
	return nil
}

func mongoFilter(q Query) bson.D {
	filter := bson.D{}
	if q.Category != "" {
		filter = append(filter, bson.E{Key: "category", Value: q.Category})
	}
	if q.DateBefore != nil || q.DateAfter != nil {
		cond := bson.D{}
		if q.DateBefore != nil {
			cond = append(cond, bson.E{Key: "$lt", Value: *q.DateBefore})
		}
		if q.DateAfter != nil {
			cond = append(cond, bson.E{Key: "$gt", Value: *q.DateAfter})
		}
		filter = append(filter, bson.E{Key: "date", Value: cond})
	}
	if !q.Since.IsZero() {
		filter = append(filter, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: q.Since}}})
	}
	return filter
}

// viewsSortKey holds views with a missing counter read as 0.
const viewsSortKey = "views_sort"

// mongoPipeline matches, sorts and limits q. Sorting on views goes through
// viewsSortKey so documents without a counter rank as 0.
func mongoPipeline(q Query) mongo.Pipeline {
	var pipeline mongo.Pipeline
	if filter := mongoFilter(q); len(filter) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
	}
	byViews := false
	for _, o := range q.OrderBy {
		if o.Field == model.FieldViews {
			byViews = true
		}
	}
	if byViews {
		pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.D{
			{Key: viewsSortKey, Value: bson.D{{Key: "$ifNull", Value: bson.A{"$views", 0}}}},
		}}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: mongoSort(q)}})
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}
	if byViews {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.D{{Key: viewsSortKey, Value: 0}}}})
	}
	return pipeline
}

// mongoSort orders by the query keys then _id.
func mongoSort(q Query) bson.D {
	sort := bson.D{}
	for _, o := range q.OrderBy {
		key := o.Field
		if key == model.FieldViews {
			key = viewsSortKey
		}
		sort = append(sort, bson.E{Key: key, Value: sortValue(o.Desc)})
	}
	return append(sort, bson.E{Key: "_id", Value: sortValue(q.tieBreakDesc())})
}

func sortValue(desc bool) int {
	if desc {
		return -1
	}
	return 1
}
