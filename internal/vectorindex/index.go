package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/lifelensai/lifelens/internal/observability"
)

// Collection names.
const (
	KnowledgeCollection    = "therapist-knowledgebase"
	ConversationCollection = "user-conversations"
)

// Metadata keys written on every entry.
const (
	MetaUser   = "user"
	MetaSource = "source"
	metaSeq    = "seq"
)

var (
	ErrDuplicateID       = errors.New("duplicate index entry id")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Entry is a document to index.
type Entry struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Match is a ranked query result.
type Match struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

type Options struct {
	// Dir persists collections on disk. Empty keeps everything in memory.
	Dir    string
	Embed  EmbeddingFunc
	Logger zerolog.Logger
}

// Index holds the knowledge base and conversation collections.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	embed       EmbeddingFunc
	logger      zerolog.Logger

	// addMu serialises the duplicate check with the insert.
	addMu   sync.Mutex
	lastSeq atomic.Int64
}

func Open(opts Options) (*Index, error) {
	if opts.Embed == nil {
		return nil, errors.New("vector index requires an embedding function")
	}

	var (
		db  *chromem.DB
		err error
	)
	if strings.TrimSpace(opts.Dir) == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store %s: %w", opts.Dir, err)
		}
	}

	idx := &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection, 2),
		embed:       opts.Embed,
		logger:      observability.Component(opts.Logger, "vectorindex"),
	}
	for _, name := range []string{KnowledgeCollection, ConversationCollection} {
		col, err := db.GetOrCreateCollection(name, nil, opts.Embed)
		if err != nil {
			return nil, fmt.Errorf("open collection %s: %w", name, err)
		}
		idx.collections[name] = col
	}
	idx.logger.Info().
		Str("dir", opts.Dir).
		Int("knowledge_docs", idx.collections[KnowledgeCollection].Count()).
		Int("conversation_docs", idx.collections[ConversationCollection].Count()).
		Msg("vector index opened")
	return idx, nil
}

func (x *Index) collection(name string) (*chromem.Collection, error) {
	col, ok := x.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return col, nil
}

// nextSeq returns a strictly increasing insertion sequence that survives restarts.
func (x *Index) nextSeq() int64 {
	for {
		now := time.Now().UnixNano()
		last := x.lastSeq.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if x.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (x *Index) document(ctx context.Context, e Entry) (chromem.Document, error) {
	if strings.TrimSpace(e.ID) == "" {
		return chromem.Document{}, errors.New("index entry id is empty")
	}
	vec, err := x.embed(ctx, e.Content)
	if err != nil {
		return chromem.Document{}, err
	}
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return chromem.Document{
		ID:        e.ID,
		Content:   e.Content,
		Metadata:  meta,
		Embedding: vec,
	}, nil
}

// Add indexes one entry. An id that already exists returns ErrDuplicateID.
func (x *Index) Add(ctx context.Context, collection string, e Entry) error {
	col, err := x.collection(collection)
	if err != nil {
		return err
	}
	doc, err := x.document(ctx, e)
	if err != nil {
		return fmt.Errorf("embed entry %s: %w", e.ID, err)
	}

	x.addMu.Lock()
	defer x.addMu.Unlock()
	exists, err := has(ctx, col, e.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	doc.Metadata[metaSeq] = strconv.FormatInt(x.nextSeq(), 10)
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add entry %s: %w", e.ID, err)
	}
	return nil
}

// AddBatch embeds entries concurrently and indexes them in slice order, skipping
// ids that are already present. It returns how many entries were added.
func (x *Index) AddBatch(ctx context.Context, collection string, entries []Entry, concurrency int) (int, error) {
	col, err := x.collection(collection)
	if err != nil {
		return 0, err
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	docs := make([]chromem.Document, len(entries))
	p := pool.New().WithMaxGoroutines(concurrency).WithContext(ctx).WithCancelOnError()
	for i, e := range entries {
		p.Go(func(ctx context.Context) error {
			doc, err := x.document(ctx, e)
			if err != nil {
				return fmt.Errorf("embed entry %s: %w", e.ID, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	x.addMu.Lock()
	defer x.addMu.Unlock()
	added := 0
	for _, doc := range docs {
		exists, err := has(ctx, col, doc.ID)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}
		doc.Metadata[metaSeq] = strconv.FormatInt(x.nextSeq(), 10)
		if err := col.AddDocument(ctx, doc); err != nil {
			return added, fmt.Errorf("add entry %s: %w", doc.ID, err)
		}
		added++
	}
	return added, nil
}

// Query returns up to topK entries most similar to text, optionally filtered by
// exact metadata matches. Results are ordered by similarity descending; ties keep
// insertion order.
func (x *Index) Query(ctx context.Context, collection, text string, topK int, where map[string]string) ([]Match, error) {
	col, err := x.collection(collection)
	if err != nil {
		return nil, err
	}
	if topK <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	// chromem requires nResults <= collection size; shrink when a concurrent
	// delete lowers the count under us.
	var results []chromem.Result
	for attempt := 0; ; attempt++ {
		n := col.Count()
		if n == 0 {
			return nil, nil
		}
		results, err = col.Query(ctx, text, n, where, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) && attempt < 3 {
			continue
		}
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return seqOf(results[i].Metadata) < seqOf(results[j].Metadata)
	})
	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k != metaSeq {
				meta[k] = v
			}
		}
		out = append(out, Match{ID: r.ID, Content: r.Content, Metadata: meta, Similarity: r.Similarity})
	}
	return out, nil
}

// DeleteWhere removes every entry whose metadata matches where. Deleting nothing is not an error.
func (x *Index) DeleteWhere(ctx context.Context, collection string, where map[string]string) error {
	col, err := x.collection(collection)
	if err != nil {
		return err
	}
	if len(where) == 0 {
		return errors.New("delete requires a metadata filter")
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

func (x *Index) Count(collection string) (int, error) {
	col, err := x.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (x *Index) Has(ctx context.Context, collection, id string) (bool, error) {
	col, err := x.collection(collection)
	if err != nil {
		return false, err
	}
	return has(ctx, col, id)
}

// AddUtterance indexes a user utterance in the conversation collection.
func (x *Index) AddUtterance(ctx context.Context, id, userID, text string) error {
	return x.Add(ctx, ConversationCollection, Entry{
		ID:       id,
		Content:  text,
		Metadata: map[string]string{MetaUser: userID},
	})
}

func (x *Index) HasUtterance(ctx context.Context, id string) (bool, error) {
	return x.Has(ctx, ConversationCollection, id)
}

// DeleteUser removes every conversation entry owned by userID.
func (x *Index) DeleteUser(ctx context.Context, userID string) error {
	return x.DeleteWhere(ctx, ConversationCollection, map[string]string{MetaUser: userID})
}

// RecallUser returns the user's own utterances most similar to query.
func (x *Index) RecallUser(ctx context.Context, userID, query string, topK int) ([]Match, error) {
	return x.Query(ctx, ConversationCollection, query, topK, map[string]string{MetaUser: userID})
}

// SearchKnowledge queries the knowledge base without filters.
func (x *Index) SearchKnowledge(ctx context.Context, query string, topK int) ([]Match, error) {
	return x.Query(ctx, KnowledgeCollection, query, topK, nil)
}

func has(ctx context.Context, col *chromem.Collection, id string) (bool, error) {
	if col.Count() == 0 {
		return false, nil
	}
	_, err := col.GetByID(ctx, id)
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), "not found") {
		return false, nil
	}
	return false, fmt.Errorf("look up entry %s: %w", id, err)
}

func seqOf(meta map[string]string) int64 {
	n, err := strconv.ParseInt(meta[metaSeq], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func isInsufficientDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
