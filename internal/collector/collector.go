package collector

import (
	"net/http"
	"net/url"
	"sort"
)

// Pass is one request variant within a job. Jobs with multiple passes (the
// suggestions job fetches active then archived) run them sequentially;
// Envelope fields are merged into every record the pass yields.
type Pass struct {
	Query    url.Values
	Body     any
	Envelope map[string]any
}

// Definition describes one named collection job against the API.
type Definition struct {
	// Name is the job identifier used on the command line and in config.
	Name string

	// Path relative to the API base URL.
	Path string

	// Method defaults to GET when empty.
	Method string

	// Container is the payload field holding the record list; empty means
	// the whole response object is the single record.
	Container string

	// Paginated jobs drive the endpoint with offset/limit parameters.
	Paginated bool

	// EventType is merged into every emitted record and prefixes the
	// run_start/run_summary/error event types.
	EventType string

	// Passes lists the request variants; nil means a single plain pass.
	Passes []Pass
}

// passes returns the job's passes, defaulting to one empty pass.
func (d Definition) passes() []Pass {
	if len(d.Passes) == 0 {
		return []Pass{{}}
	}
	return d.Passes
}

// definitions is the registry of supported jobs. Container field names vary
// per endpoint ("list", "suggestions", "txt_records") and are pinned here
// per the API documentation rather than guessed at runtime.
var definitions = map[string]Definition{
	"users": {
		Name:      "users",
		Path:      "/admin/users",
		Container: "list",
		EventType: "asm_user",
	},
	"admin-users": {
		Name:      "admin-users",
		Path:      "/admin/users",
		Container: "list",
		EventType: "asm_admin_user",
	},
	"inventories": {
		Name:      "inventories",
		Path:      "/inventories/list",
		Container: "list",
		EventType: "asm_inventory",
	},
	"limits": {
		Name:      "limits",
		Path:      "/asset-limit",
		EventType: "asm_asset_limit",
	},
	"suggestions": {
		Name:      "suggestions",
		Path:      "/suggestions/list",
		Method:    http.MethodPost,
		Container: "suggestions",
		EventType: "asm_suggestion",
		Passes: []Pass{
			{
				Query:    url.Values{"is_archived": []string{"false"}},
				Envelope: map[string]any{"is_archived": false},
			},
			{
				Query:    url.Values{"is_archived": []string{"true"}},
				Envelope: map[string]any{"is_archived": true},
			},
		},
	},
	"suggestion-count": {
		Name:      "suggestion-count",
		Path:      "/suggestions/count",
		Method:    http.MethodPost,
		EventType: "asm_suggestion_count",
		Passes: []Pass{
			{
				Body:     map[string]any{"is_archived": false},
				Envelope: map[string]any{"is_archived": false},
			},
		},
	},
	"txt-records": {
		Name:      "txt-records",
		Path:      "/txt-records/search",
		Method:    http.MethodPost,
		Container: "txt_records",
		EventType: "asm_txt_record",
		Passes: []Pass{
			{Body: map[string]any{}},
		},
	},
	"user-action-logs": {
		Name:      "user-action-logs",
		Path:      "/user-action-logs",
		Container: "list",
		Paginated: true,
		EventType: "asm_user_action_log",
	},
}

// Lookup returns the job definition for name.
func Lookup(name string) (Definition, bool) {
	d, ok := definitions[name]
	return d, ok
}

// Names returns all registered job names, sorted.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
