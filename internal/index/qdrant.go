package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: bowen).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Payload keys written for each point.
const (
	payloadPosition       = "position"
	payloadID             = "chunk_id"
	payloadText           = "text"
	payloadActTitle       = "act_title"
	payloadActShortName   = "act_short_name"
	payloadSectionNumber  = "section_number"
	payloadSectionHeading = "section_heading"
	payloadSectionURL     = "section_url"
	payloadActURL         = "act_url"
)

// QdrantStore mirrors an index snapshot into a Qdrant collection and serves
// queries from it. Point IDs are snapshot positions, so candidates keep the
// same position tie-break as the in-memory scan.
type QdrantStore struct {
	client *qdrant.Client
	cfg    *QdrantConfig
	count  int
}

// NewQdrantStore connects to Qdrant, ensures the target collection exists
// (creating it if necessary), and reads the current point count.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "bowen"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	if err := store.refreshCount(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if s.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: collection %q does not exist and no vector size was given", s.cfg.Collection)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

func (s *QdrantStore) refreshCount(ctx context.Context) error {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return fmt.Errorf("qdrant: count failed: %w", err)
	}
	s.count = int(n)
	return nil
}

// Mirror upserts every vector of idx into the collection in batches of
// batchSize points (default 256), keyed by position, then deletes points
// beyond the snapshot so the collection holds exactly idx.Len() points.
func (s *QdrantStore) Mirror(ctx context.Context, idx *Index, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 256
	}
	wait := true
	for start := 0; start < idx.Len(); start += batchSize {
		end := min(start+batchSize, idx.Len())
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)),
				Vectors: qdrant.NewVectors(idx.Vector(i)...),
				Payload: qdrant.NewValueMap(recordPayload(i, idx.Record(i))),
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert failed at position %d: %w", start, err)
		}
	}
	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(staleFilter(idx.Len())),
	}); err != nil {
		return fmt.Errorf("qdrant: delete stale points: %w", err)
	}
	if err := s.refreshCount(ctx); err != nil {
		return err
	}
	if s.count != idx.Len() {
		return fmt.Errorf("%w: collection %q holds %d points after mirroring %d records",
			ErrMisaligned, s.cfg.Collection, s.count, idx.Len())
	}
	return nil
}

// staleFilter matches points left over from a larger snapshot: every point
// whose position is at or beyond n.
func staleFilter(n int) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewRange(payloadPosition, &qdrant.Range{Gte: qdrant.PtrOf(float64(n))}),
		},
	}
}

// Query implements [Querier] using Qdrant's cosine search.
func (s *QdrantStore) Query(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	if k <= 0 || k > s.count {
		k = s.count
	}
	if k == 0 {
		return nil, nil
	}
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		pos, rec := payloadRecord(r.GetPayload())
		if pos < 0 {
			pos = int(r.GetId().GetNum())
		}
		out = append(out, Candidate{Position: pos, Score: r.GetScore(), Record: rec})
	}
	SortCandidates(out)
	return out, nil
}

// Len implements [Querier].
func (s *QdrantStore) Len() int { return s.count }

// Ping checks the Qdrant server health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Reset drops the collection and recreates it empty.
func (s *QdrantStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: delete collection %q: %w", s.cfg.Collection, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	s.count = 0
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func recordPayload(position int, r Record) map[string]any {
	return map[string]any{
		payloadPosition:       int64(position),
		payloadID:             r.ID,
		payloadText:           r.Text,
		payloadActTitle:       r.ActTitle,
		payloadActShortName:   r.ActShortName,
		payloadSectionNumber:  r.SectionNumber,
		payloadSectionHeading: r.SectionHeading,
		payloadSectionURL:     r.SectionURL,
		payloadActURL:         r.ActURL,
	}
}

// payloadRecord decodes a point payload. The position is -1 when absent.
func payloadRecord(p map[string]*qdrant.Value) (int, Record) {
	str := func(k string) string {
		if v, ok := p[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	pos := -1
	if v, ok := p[payloadPosition]; ok {
		pos = int(v.GetIntegerValue())
	}
	return pos, Record{
		ID:             str(payloadID),
		Text:           str(payloadText),
		ActTitle:       str(payloadActTitle),
		ActShortName:   str(payloadActShortName),
		SectionNumber:  str(payloadSectionNumber),
		SectionHeading: str(payloadSectionHeading),
		SectionURL:     str(payloadSectionURL),
		ActURL:         str(payloadActURL),
	}
}
