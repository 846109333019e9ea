package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys reserved by the Qdrant store.
const (
	payloadText  = "document"
	payloadDocID = "doc_id"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Qdrant stores chunks as points in one Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
}

// NewQdrant dials the Qdrant gRPC endpoint. Call EnsureCollection before use.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "persona_memory"
	}
	return &Qdrant{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  collection,
	}, nil
}

// WithCollection returns a store over another collection sharing this
// connection. Closing either closes the connection.
func (q *Qdrant) WithCollection(name string) *Qdrant {
	c := *q
	c.collection = name
	return &c
}

// EnsureCollection creates the collection with cosine distance if it does
// not already exist.
func (q *Qdrant) EnsureCollection(ctx context.Context, dimension uint64) error {
	_, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err == nil {
		return nil
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

// PointID maps a chunk id onto the UUID point id Qdrant requires. The
// mapping is stable so re-adding a chunk overwrites it.
func PointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

// Add upserts documents as points. The original id travels in the payload.
func (q *Qdrant) Add(ctx context.Context, docs []Document) error {
	if err := validateDocs(docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := make(map[string]*pb.Value, len(d.Metadata)+2)
		for k, v := range d.Metadata {
			payload[k] = stringValue(v)
		}
		payload[payloadText] = stringValue(d.Text)
		payload[payloadDocID] = stringValue(d.ID)
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(d.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Embedding}}},
			Payload: payload,
		})
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", q.collection, err)
	}
	return nil
}

// Query performs a nearest-neighbor search. Qdrant reports cosine
// similarity, which is converted to distance.
func (q *Qdrant) Query(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.collection, err)
	}
	matches := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		meta := make(map[string]string)
		for k, v := range r.Payload {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				meta[k] = sv.StringValue
			}
		}
		m := Match{
			ID:       meta[payloadDocID],
			Text:     meta[payloadText],
			Distance: 1 - float64(r.Score),
		}
		delete(meta, payloadDocID)
		delete(meta, payloadText)
		m.Metadata = meta
		if m.ID == "" {
			m.ID = r.Id.GetUuid()
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Count returns the exact number of points in the collection.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close tears down the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
