// Package resolver fetches the text of a host document through the code
// host's GraphQL API. The engine has no file system of its own, so every
// document must be resolved before it is opened.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gossip-lsp/langruby/convert"
)

var tracer = otel.Tracer("langruby.resolver")

// FileContentQuery fetches one file at one revision.
const FileContentQuery = `query FileContent($cloneURL: String!, $revision: String!, $filePath: String!) {
  repository(cloneURL: $cloneURL) {
    name
    commit(rev: $revision) {
      file(path: $filePath) {
        content
      }
    }
  }
}`

// GraphQLError is one entry of a GraphQL response's errors array.
type GraphQLError struct {
	Message string        `json:"message"`
	Path    []interface{} `json:"path,omitempty"`
}

// Response is a GraphQL response envelope.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// Querier executes GraphQL queries against the code host.
type Querier interface {
	QueryGraphQL(ctx context.Context, query string, variables map[string]interface{}) (*Response, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, query string, variables map[string]interface{}) (*Response, error)

func (f QuerierFunc) QueryGraphQL(ctx context.Context, query string, variables map[string]interface{}) (*Response, error) {
	return f(ctx, query, variables)
}

// FileArgs are the variables of FileContentQuery.
type FileArgs struct {
	CloneURL string `json:"cloneURL"`
	Revision string `json:"revision"`
	FilePath string `json:"filePath"`
}

func (a FileArgs) variables() map[string]interface{} {
	return map[string]interface{}{
		"cloneURL": a.CloneURL,
		"revision": a.Revision,
		"filePath": a.FilePath,
	}
}

// QueryError is a GraphQL failure: the response carried a non-empty errors
// array.
type QueryError struct {
	Errors []GraphQLError
}

func (e *QueryError) Error() string {
	return joinMessages(e.Errors)
}

// NotFoundError reports that the response lacked the repository, commit,
// file or content.
type NotFoundError struct {
	Args     FileArgs
	Endpoint string
}

func (e *NotFoundError) Error() string {
	args := struct {
		FileArgs
		Endpoint string `json:"endpoint,omitempty"`
	}{e.Args, e.Endpoint}
	data, _ := json.Marshal(args)
	return "could not find file content on the code host; make sure the repository is enabled and cloned\n" + string(data)
}

func joinMessages(errs []GraphQLError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "\n")
}

// Resolver turns host documents into file text.
type Resolver struct {
	querier  Querier
	endpoint string
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for failed fetches.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithEndpoint names the code host in not-found messages.
func WithEndpoint(endpoint string) Option {
	return func(r *Resolver) { r.endpoint = endpoint }
}

// New creates a resolver over q.
func New(q Querier, opts ...Option) *Resolver {
	r := &Resolver{querier: q}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Resolve fetches the text of a host-form document URI.
func (r *Resolver) Resolve(ctx context.Context, hostURI string) (string, error) {
	d, err := convert.ParseHostURI(hostURI)
	if err != nil {
		return "", err
	}
	return r.FileContent(ctx, FileArgs{CloneURL: d.CloneURL, Revision: d.Revision, FilePath: d.FilePath})
}

// FileContent fetches one file. Any GraphQL error fails the fetch, even
// when data came back with it. An empty file is valid content; only a
// missing or null field is not found.
func (r *Resolver) FileContent(ctx context.Context, args FileArgs) (string, error) {
	ctx, span := tracer.Start(ctx, "Resolver.FileContent", trace.WithAttributes(
		attribute.String("repo.clone_url", args.CloneURL),
		attribute.String("repo.revision", args.Revision),
		attribute.String("file.path", args.FilePath),
	))
	defer span.End()

	resp, err := r.querier.QueryGraphQL(ctx, FileContentQuery, args.variables())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return "", fmt.Errorf("querying file content: %w", err)
	}

	if len(resp.Errors) > 0 {
		qerr := &QueryError{Errors: resp.Errors}
		r.logger.Debug("graphql errors", "clone_url", args.CloneURL, "revision", args.Revision,
			"path", args.FilePath, "errors", len(resp.Errors))
		span.RecordError(qerr)
		span.SetStatus(codes.Error, "graphql errors")
		return "", qerr
	}

	content := gjson.GetBytes(resp.Data, "repository.commit.file.content")
	if content.Type != gjson.String {
		nerr := &NotFoundError{Args: args, Endpoint: r.endpoint}
		r.logger.Debug("file content not found", "clone_url", args.CloneURL, "revision", args.Revision,
			"path", args.FilePath)
		span.SetStatus(codes.Error, "not found")
		return "", nerr
	}
	span.SetAttributes(attribute.Int("file.bytes", len(content.Str)))
	return content.Str, nil
}
