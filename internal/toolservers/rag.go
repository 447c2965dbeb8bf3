package toolservers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/redworks/red/internal/ports"
	"github.com/redworks/red/internal/toolrpc"
)

const (
	defaultCollection   = "documents"
	defaultSearchLimit  = 5
	ragServerName       = "rag"
	documentIDSeparator = "doc_"
)

// ragStore wraps a chromem database with a shared embedding function.
type ragStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	ids   ports.IDGenerator
}

// NewRagServer exposes document storage and semantic retrieval over an
// embedded vector store. Pass a persistence path to survive restarts, or
// empty for in-memory.
func NewRagServer(bus ports.Bus, persistPath string, embed func(ctx context.Context, text string) ([]float32, error), ids ports.IDGenerator, slogger *slog.Logger) (*toolrpc.Server, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	store := &ragStore{db: db, embed: chromem.EmbeddingFunc(embed), ids: ids}
	srv := toolrpc.NewServer(ragServerName, "1.0", bus, slogger)
	srv.Register(&addDocumentTool{store})
	srv.Register(&searchDocumentsTool{store})
	srv.Register(&deleteDocumentsTool{store})
	srv.Register(&listCollectionsTool{store})
	srv.Register(&collectionStatsTool{store})
	return srv, nil
}

func (s *ragStore) collection(name string) (*chromem.Collection, error) {
	if name == "" {
		name = defaultCollection
	}
	return s.db.GetOrCreateCollection(name, nil, s.embed)
}

func collectionArg(args map[string]any) string {
	name, _ := args["collection"].(string)
	return name
}

type addDocumentTool struct {
	store *ragStore
}

func (t *addDocumentTool) Name() string { return "add_document" }

func (t *addDocumentTool) Description() string {
	return "Store a document in the knowledge base for later semantic retrieval"
}

func (t *addDocumentTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":    map[string]any{"type": "string", "description": "The document text"},
			"id":         map[string]any{"type": "string", "description": "Optional document id; generated when omitted"},
			"collection": map[string]any{"type": "string", "description": "Collection name (default \"documents\")"},
			"metadata":   map[string]any{"type": "object", "description": "Optional string key/value metadata"},
		},
		"required": []string{"content"},
	}
}

func (t *addDocumentTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("content is required")
	}
	id, _ := args["id"].(string)
	if id == "" {
		id = documentIDSeparator + t.store.ids.GenerateRequestID()
	}

	metadata := map[string]string{}
	if raw, ok := args["metadata"].(map[string]any); ok {
		for k, v := range raw {
			metadata[k] = fmt.Sprint(v)
		}
	}

	coll, err := t.store.collection(collectionArg(args))
	if err != nil {
		return "", err
	}
	doc := chromem.Document{ID: id, Content: content, Metadata: metadata}
	if err := coll.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("add document: %w", err)
	}
	return fmt.Sprintf("Stored document %s in collection %s", id, coll.Name), nil
}

type searchDocumentsTool struct {
	store *ragStore
}

func (t *searchDocumentsTool) Name() string { return "search_documents" }

func (t *searchDocumentsTool) Description() string {
	return "Semantic search over the knowledge base, returns the most similar documents"
}

func (t *searchDocumentsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":      map[string]any{"type": "string", "description": "The search query"},
			"limit":      map[string]any{"type": "number", "description": "Maximum results (default 5)"},
			"collection": map[string]any{"type": "string", "description": "Collection name (default \"documents\")"},
		},
		"required": []string{"query"},
	}
}

func (t *searchDocumentsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := defaultSearchLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	coll, err := t.store.collection(collectionArg(args))
	if err != nil {
		return "", err
	}
	if count := coll.Count(); count == 0 {
		return "No documents in collection " + coll.Name, nil
	} else if limit > count {
		limit = count
	}

	results, err := coll.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d document(s):\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] (similarity %.3f)\n%s\n\n", i+1, r.ID, r.Similarity, r.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type deleteDocumentsTool struct {
	store *ragStore
}

func (t *deleteDocumentsTool) Name() string { return "delete_documents" }

func (t *deleteDocumentsTool) Description() string {
	return "Delete documents from the knowledge base by id"
}

func (t *deleteDocumentsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Document ids to delete",
			},
			"collection": map[string]any{"type": "string", "description": "Collection name (default \"documents\")"},
		},
		"required": []string{"ids"},
	}
}

func (t *deleteDocumentsTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	raw, ok := args["ids"].([]any)
	if !ok || len(raw) == 0 {
		return "", fmt.Errorf("ids is required")
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("ids is required")
	}

	coll, err := t.store.collection(collectionArg(args))
	if err != nil {
		return "", err
	}
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}
	return "Deleted " + strconv.Itoa(len(ids)) + " document(s)", nil
}

type listCollectionsTool struct {
	store *ragStore
}

func (t *listCollectionsTool) Name() string { return "list_collections" }

func (t *listCollectionsTool) Description() string {
	return "List knowledge base collections and their document counts"
}

func (t *listCollectionsTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *listCollectionsTool) Execute(_ context.Context, _ map[string]any) (string, error) {
	collections := t.store.db.ListCollections()
	if len(collections) == 0 {
		return "No collections", nil
	}
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %d document(s)\n", name, collections[name].Count())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type collectionStatsTool struct {
	store *ragStore
}

func (t *collectionStatsTool) Name() string { return "get_collection_stats" }

func (t *collectionStatsTool) Description() string {
	return "Report document count for one collection"
}

func (t *collectionStatsTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"collection": map[string]any{"type": "string", "description": "Collection name (default \"documents\")"},
		},
	}
}

func (t *collectionStatsTool) Execute(_ context.Context, args map[string]any) (string, error) {
	coll, err := t.store.collection(collectionArg(args))
	if err != nil {
		return "", err
	}
	stats := map[string]any{"collection": coll.Name, "documents": coll.Count()}
	out, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
