package bridgetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gossip-lsp/langruby/resolver"
)

// Repo is an in-memory repository that answers the file content query. It
// implements resolver.Querier.
type Repo struct {
	CloneURL string

	mu      sync.Mutex
	files   map[string]map[string]string // revision -> path -> content
	queries int
}

// NewRepo creates an empty repository at cloneURL.
func NewRepo(cloneURL string) *Repo {
	return &Repo{CloneURL: cloneURL, files: make(map[string]map[string]string)}
}

// Put stores content for path at revision.
func (r *Repo) Put(revision, path, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files[revision] == nil {
		r.files[revision] = make(map[string]string)
	}
	r.files[revision][path] = content
}

// URI returns the host-form URI of path at revision.
func (r *Repo) URI(revision, path string) string {
	return HostURI(r.CloneURL, revision, path)
}

// Queries reports how many file content queries were answered.
func (r *Repo) Queries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}

// QueryGraphQL implements resolver.Querier. Unknown repositories are a
// GraphQL error; unknown files are a null file.
func (r *Repo) QueryGraphQL(ctx context.Context, query string, variables map[string]interface{}) (*resolver.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cloneURL, _ := variables["cloneURL"].(string)
	revision, _ := variables["revision"].(string)
	path, _ := variables["filePath"].(string)

	r.mu.Lock()
	r.queries++
	content, ok := r.files[revision][path]
	r.mu.Unlock()

	if cloneURL != r.CloneURL {
		return &resolver.Response{Errors: []resolver.GraphQLError{{Message: fmt.Sprintf("repository %s not found", cloneURL)}}}, nil
	}
	var file interface{}
	if ok {
		file = map[string]string{"content": content}
	}
	data, err := json.Marshal(map[string]interface{}{
		"repository": map[string]interface{}{
			"name":   cloneURL,
			"commit": map[string]interface{}{"file": file},
		},
	})
	if err != nil {
		return nil, err
	}
	return &resolver.Response{Data: data}, nil
}
