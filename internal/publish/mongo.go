package publish

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wheelsup-data/flightschool-etl/internal/config"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// MongoSink feeds the search index. Each entity becomes one flattened
// document keyed by (entity_key, entity_type); replays replace the document
// wholesale, so the index always reflects the latest published snapshot.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongo connects a MongoSink.
func NewMongo(ctx context.Context, cfg config.SearchConfig) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return &MongoSink{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Close disconnects from MongoDB.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Name implements Sink.
func (s *MongoSink) Name() string { return "mongo" }

// Publish implements Sink.
func (s *MongoSink) Publish(ctx context.Context, snapshotID string, batch []model.NormalizedEntity) error {
	if len(batch) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(batch))
	for _, ent := range batch {
		doc := buildSearchDoc(snapshotID, ent)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"entity_key": ent.Key, "entity_type": ent.EntityType}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return eris.Wrap(err, "mongo: bulk write")
}

// buildSearchDoc flattens an entity for indexing: field values and
// confidences as nested maps, plus a search_text blob concatenating every
// string value for full-text queries.
func buildSearchDoc(snapshotID string, ent model.NormalizedEntity) bson.M {
	names := make([]string, 0, len(ent.Fields))
	for name := range ent.Fields {
		names = append(names, name)
	}
	// stable field order keeps republished documents byte-identical
	sort.Strings(names)

	fields := bson.M{}
	confidences := bson.M{}
	flags := bson.M{}
	var text []string
	for _, name := range names {
		f := ent.Fields[name]
		fields[name] = f.Value
		confidences[name] = f.Confidence
		if len(f.Flags) > 0 {
			flags[name] = f.Flags
		}
		if s, ok := f.Value.(string); ok && s != "" {
			text = append(text, s)
		}
	}

	doc := bson.M{
		"entity_key":  ent.Key,
		"entity_type": ent.EntityType,
		"snapshot_id": snapshotID,
		"fields":      fields,
		"confidence":  confidences,
		"search_text": strings.Join(text, " "),
		"indexed_at":  time.Now().UTC(),
	}
	if len(flags) > 0 {
		doc["flags"] = flags
	}
	if ent.Identity.Domain != "" {
		doc["domain"] = ent.Identity.Domain
	}
	if ent.Identity.PhoneE164 != "" {
		doc["phone_e164"] = ent.Identity.PhoneE164
	}
	if ent.Identity.FacilityCode != "" {
		doc["facility_code"] = ent.Identity.FacilityCode
	}
	return doc
}
