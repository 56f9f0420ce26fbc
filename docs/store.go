package docs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Document is one chunk of an uploaded file.
type Document struct {
	ID          string   `json:"id,omitempty"`
	PageContent string   `json:"pageContent"`
	Metadata    Metadata `json:"metadata"`
}

// Metadata describes where a chunk came from.
type Metadata struct {
	Source string `json:"source"`
	Chunk  int    `json:"chunk"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	ChatID string `json:"chatId,omitempty"`
}

// File is an uploaded file's decoded text.
type File struct {
	Name string
	Type string
	Size int64
	Text string
}

// Chunk splits f into documents.
func Chunk(f File) []Document {
	parts := Split(f.Text, DefaultChunkSize, DefaultOverlap)
	out := make([]Document, len(parts))
	for i, p := range parts {
		out[i] = Document{
			ID:          uuid.New().String(),
			PageContent: p,
			Metadata:    Metadata{Source: f.Name, Chunk: i, Type: f.Type, Size: f.Size},
		}
	}
	return out
}

// ChunkAll splits several files concurrently. Output keeps file order.
func ChunkAll(ctx context.Context, files []File) ([]Document, error) {
	results := make([][]Document, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.TrimSpace(f.Text) == "" {
				return fmt.Errorf("%s: file is empty", f.Name)
			}
			results[i] = Chunk(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Document
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Store holds uploaded documents per chat. It is owned by the server and
// handed to the components that need it; all methods are safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	chats map[string][]Document
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{chats: make(map[string][]Document)}
}

// Add attaches docs to chatID and returns how many were stored.
func (s *Store) Add(chatID string, docs []Document) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		d.Metadata.ChatID = chatID
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		s.chats[chatID] = append(s.chats[chatID], d)
	}
	return len(docs)
}

// Count returns the number of documents stored for chatID.
func (s *Store) Count(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[chatID])
}

// All returns a copy of chatID's documents.
func (s *Store) All(chatID string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Document(nil), s.chats[chatID]...)
}

// Clear drops every document of chatID.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	delete(s.chats, chatID)
	s.mu.Unlock()
}

// Search returns up to k of chatID's documents sharing the most terms with
// query. Documents sharing none are never returned.
func (s *Store) Search(chatID, query string, k int) []Document {
	terms := termSet(query)
	if len(terms) == 0 || k <= 0 {
		return nil
	}

	s.mu.RLock()
	docs := s.chats[chatID]
	type scored struct {
		doc   Document
		score int
	}
	var hits []scored
	for _, d := range docs {
		score := 0
		for t := range termSet(d.PageContent) {
			if _, ok := terms[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out
}

func termSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// FormatContext renders docs as a numbered context block for the model.
func FormatContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		source := d.Metadata.Source
		if source == "" {
			source = "Unknown"
		}
		parts[i] = fmt.Sprintf("DOCUMENT %d:\n%s\n\nSOURCE: %s\n", i+1, d.PageContent, source)
	}
	return "RELEVANT CONTEXT:\n\n" + strings.Join(parts, "\n") +
		"\n\nUse the above information to help answer the user's question. " +
		"If the information doesn't contain the answer, just say you don't know rather than making up an answer."
}
