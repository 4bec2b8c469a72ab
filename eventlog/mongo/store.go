// Package mongo provides a durable MongoDB-backed implementation of
// eventlog.Store, one collection per stream (inputs, artefacts) as described
// by the on-disk event log shape in the engine's external interfaces.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"forge.design/mediaforge/eventlog"
)

const (
	defaultInputsCollection    = "input_events"
	defaultArtefactsCollection = "artefact_events"
	defaultOpTimeout           = 5 * time.Second
)

// Options configures the Mongo-backed event log store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	InputsCollection   string
	ArtefactCollection string
	Timeout            time.Duration
}

// Store implements eventlog.Store over two Mongo collections, one per
// stream, each carrying a unique index that enforces the store's duplicate
// detection rule.
type Store struct {
	inputs    *mongodriver.Collection
	artefacts *mongodriver.Collection
	timeout   time.Duration
}

// New builds a Store against the given Mongo client, creating the unique
// indexes that back duplicate detection if they don't already exist.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	inputsColl := opts.InputsCollection
	if inputsColl == "" {
		inputsColl = defaultInputsCollection
	}
	artefactsColl := opts.ArtefactCollection
	if artefactsColl == "" {
		artefactsColl = defaultArtefactsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	inputs := db.Collection(inputsColl)
	artefacts := db.Collection(artefactsColl)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, inputs, artefacts); err != nil {
		return nil, err
	}

	return &Store{inputs: inputs, artefacts: artefacts, timeout: timeout}, nil
}

func ensureIndexes(ctx context.Context, inputs, artefacts *mongodriver.Collection) error {
	if _, err := inputs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "movie_id", Value: 1}, {Key: "id", Value: 1}, {Key: "revision", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := artefacts.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "movie_id", Value: 1}, {Key: "artefact_id", Value: 1}, {Key: "revision", Value: 1}, {Key: "produced_by", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type inputDocument struct {
	MovieID   string    `bson:"movie_id"`
	ID        string    `bson:"id"`
	Revision  string    `bson:"revision"`
	Payload   any       `bson:"payload"`
	Hash      string    `bson:"hash"`
	EditedBy  string    `bson:"edited_by"`
	CreatedAt time.Time `bson:"created_at"`
}

type artefactDocument struct {
	MovieID     string         `bson:"movie_id"`
	ArtefactID  string         `bson:"artefact_id"`
	Revision    string         `bson:"revision"`
	InputsHash  string         `bson:"inputs_hash"`
	Output      any            `bson:"output,omitempty"`
	Status      eventlog.Status `bson:"status"`
	ProducedBy  string         `bson:"produced_by"`
	CreatedAt   time.Time      `bson:"created_at"`
	Diagnostics map[string]any `bson:"diagnostics,omitempty"`
}

// AppendInput implements eventlog.Store.
func (s *Store) AppendInput(ctx context.Context, movieID string, event eventlog.InputEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var existing inputDocument
	filter := bson.M{"movie_id": movieID, "id": event.ID, "revision": event.Revision}
	err := s.inputs.FindOne(ctx, filter).Decode(&existing)
	switch {
	case err == nil:
		if existing.Hash != event.Hash {
			return eventlog.ErrConflictingRevision
		}
		return nil
	case errors.Is(err, mongodriver.ErrNoDocuments):
		// fall through to insert
	default:
		return err
	}

	doc := inputDocument{
		MovieID:   movieID,
		ID:        event.ID,
		Revision:  event.Revision,
		Payload:   event.Payload,
		Hash:      event.Hash,
		EditedBy:  event.EditedBy,
		CreatedAt: event.CreatedAt,
	}
	_, err = s.inputs.InsertOne(ctx, doc)
	if mongodriver.IsDuplicateKeyError(err) {
		// Lost a race with another writer inserting the same key; the
		// winning write satisfies this append only if it carries the same
		// hash.
		if err := s.inputs.FindOne(ctx, filter).Decode(&existing); err != nil {
			return err
		}
		if existing.Hash != event.Hash {
			return eventlog.ErrConflictingRevision
		}
		return nil
	}
	return err
}

// AppendArtefact implements eventlog.Store.
func (s *Store) AppendArtefact(ctx context.Context, movieID string, event eventlog.ArtefactEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	doc := artefactDocument{
		MovieID:     movieID,
		ArtefactID:  event.ArtefactID,
		Revision:    event.Revision,
		InputsHash:  event.InputsHash,
		Output:      event.Output,
		Status:      event.Status,
		ProducedBy:  event.ProducedBy,
		CreatedAt:   event.CreatedAt,
		Diagnostics: event.Diagnostics,
	}
	_, err := s.artefacts.InsertOne(ctx, doc)
	if mongodriver.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// LoadInputs implements eventlog.Store.
func (s *Store) LoadInputs(ctx context.Context, movieID string, sinceRevision string) ([]eventlog.InputEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"movie_id": movieID}
	if sinceRevision != "" {
		filter["revision"] = bson.M{"$gt": sinceRevision}
	}
	cur, err := s.inputs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []eventlog.InputEvent
	for cur.Next(ctx) {
		var doc inputDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, eventlog.InputEvent{
			ID:        doc.ID,
			Revision:  doc.Revision,
			Payload:   doc.Payload,
			Hash:      doc.Hash,
			EditedBy:  doc.EditedBy,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, cur.Err()
}

// LoadArtefacts implements eventlog.Store.
func (s *Store) LoadArtefacts(ctx context.Context, movieID string, sinceRevision string) ([]eventlog.ArtefactEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"movie_id": movieID}
	if sinceRevision != "" {
		filter["revision"] = bson.M{"$gt": sinceRevision}
	}
	cur, err := s.artefacts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []eventlog.ArtefactEvent
	for cur.Next(ctx) {
		var doc artefactDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, eventlog.ArtefactEvent{
			ArtefactID:  doc.ArtefactID,
			Revision:    doc.Revision,
			InputsHash:  doc.InputsHash,
			Output:      doc.Output,
			Status:      doc.Status,
			ProducedBy:  doc.ProducedBy,
			CreatedAt:   doc.CreatedAt,
			Diagnostics: doc.Diagnostics,
		})
	}
	return out, cur.Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
