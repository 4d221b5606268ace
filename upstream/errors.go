package upstream

import (
	"strings"

	"lobby"
)

// GraphQLErrorItem is one entry of a GraphQL "errors" array.
type GraphQLErrorItem struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLError is returned when the API answers with GraphQL errors.
type GraphQLError struct {
	Field   lobby.Field
	Errors  []GraphQLErrorItem
	Retried bool // the error came from the retry after a token refresh
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.Message)
	}
	return "upstream graphql error on " + string(e.Field) + ": " + strings.Join(msgs, "; ")
}

// TokenExpired reports whether any error says the access token expired.
func (e *GraphQLError) TokenExpired() bool {
	for _, item := range e.Errors {
		msg := strings.ToLower(item.Message)
		if strings.Contains(msg, "expired") && (strings.Contains(msg, "token") || strings.Contains(msg, "jwt")) {
			return true
		}
	}
	return false
}
