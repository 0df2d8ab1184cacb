package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"
)

const alreadyExistsException = "resource_already_exists_exception"

// ElasticsearchIndex implements SearchIndex with the official Elasticsearch client.
type ElasticsearchIndex struct {
	client *elasticsearch.Client
}

var _ SearchIndex = (*ElasticsearchIndex)(nil)

// NewElasticsearchIndex wraps an Elasticsearch client.
func NewElasticsearchIndex(client *elasticsearch.Client) *ElasticsearchIndex {
	return &ElasticsearchIndex{client: client}
}

// indexMapping is the body used for every resource index.
func indexMapping(alias string) map[string]any {
	keyword := map[string]any{"type": "keyword", "index": true}
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":             keyword,
				"resourceType":   keyword,
				"_references":    keyword,
				"documentStatus": keyword,
			},
		},
		"aliases": map[string]any{alias: map[string]any{}},
	}
}

// AliasesExist reports whether every one of aliases exists.
func (e *ElasticsearchIndex) AliasesExist(ctx context.Context, aliases []string) (bool, error) {
	res, err := esapi.IndicesExistsAliasRequest{
		Name:            aliases,
		ExpandWildcards: "all",
	}.Do(ctx, e.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, responseError(res)
}

// GetAliases returns the aliases of every index, keyed by index name.
func (e *ElasticsearchIndex) GetAliases(ctx context.Context) (map[string][]string, error) {
	res, err := esapi.IndicesGetAliasRequest{}.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res)
	}

	var body map[string]struct {
		Aliases map[string]json.RawMessage `json:"aliases"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	result := make(map[string][]string, len(body))
	for index, entry := range body {
		aliases := make([]string, 0, len(entry.Aliases))
		for alias := range entry.Aliases {
			aliases = append(aliases, alias)
		}
		result[index] = aliases
	}
	return result, nil
}

// CreateIndex creates index with the resource mapping and alias attached.
func (e *ElasticsearchIndex) CreateIndex(ctx context.Context, index, alias string) error {
	body, err := json.Marshal(indexMapping(alias))
	if err != nil {
		return err
	}
	res, err := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

// PutAlias points alias at index.
func (e *ElasticsearchIndex) PutAlias(ctx context.Context, index, alias string) error {
	res, err := esapi.IndicesPutAliasRequest{
		Index: []string{index},
		Name:  alias,
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return nil
}

// Bulk sends commands in one bulk request and waits for the refresh.
func (e *ElasticsearchIndex) Bulk(ctx context.Context, commands []BulkCommand) error {
	if len(commands) == 0 {
		return nil
	}
	body, err := encodeBulkBody(commands)
	if err != nil {
		return err
	}
	res, err := esapi.BulkRequest{
		Body:    bytes.NewReader(body),
		Refresh: "wait_for",
	}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res)
	}
	return parseBulkResponse(res.Body)
}

type bulkAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkUpsert struct {
	Doc         map[string]any `json:"doc"`
	DocAsUpsert bool           `json:"doc_as_upsert"`
}

// encodeBulkBody renders commands as the newline delimited bulk format.
func encodeBulkBody(commands []BulkCommand) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, cmd := range commands {
		action := map[string]bulkAction{string(cmd.Action): {Index: cmd.Index, ID: cmd.ID}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encode %s action for %s: %w", cmd.Action, cmd.ID, err)
		}
		if cmd.Action != ActionUpdate {
			continue
		}
		if err := enc.Encode(bulkUpsert{Doc: cmd.Doc, DocAsUpsert: true}); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", cmd.ID, err)
		}
	}
	return buf.Bytes(), nil
}

type bulkItemResult struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// parseBulkResponse returns a *BulkError naming every rejected document.
func parseBulkResponse(r io.Reader) error {
	var body struct {
		Errors bool                        `json:"errors"`
		Items  []map[string]bulkItemResult `json:"items"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !body.Errors {
		return nil
	}

	bulkErr := &BulkError{}
	for _, item := range body.Items {
		for action, result := range item {
			if result.Error == nil {
				continue
			}
			bulkErr.Items = append(bulkErr.Items, BulkItemError{
				ID:        result.ID,
				Index:     result.Index,
				Action:    action,
				Status:    result.Status,
				ErrorType: result.Error.Type,
				Reason:    result.Error.Reason,
			})
		}
	}
	if len(bulkErr.Items) == 0 {
		return nil
	}
	return bulkErr
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func responseError(res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Type != "" {
		if isAlreadyExists(body.Error.Type) {
			return fmt.Errorf("%s: %w", body.Error.Reason, ErrAlreadyExists)
		}
		return fmt.Errorf("elasticsearch: %d %s: %s", res.StatusCode, body.Error.Type, body.Error.Reason)
	}
	return fmt.Errorf("elasticsearch: %d %s", res.StatusCode, bytes.TrimSpace(data))
}

func isAlreadyExists(errorType string) bool {
	return errorType == alreadyExistsException
}
