package lobby

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field names a paginated GraphQL field whose pages are accumulated.
type Field string

const (
	FieldCategories         Field = "categories"
	FieldServersByCategory  Field = "serversByCategory"
	FieldOrganisatorServers Field = "organisatorServers"
	FieldFollowedServers    Field = "followedServers"
)

// Filter argument names used in FieldPolicy.KeyArgs.
const (
	ArgCategorySlug = "categorySlug"
	ArgSearch       = "search"
	ArgUserID       = "userId"
)

// AllCategories is the sentinel the clients send for "no category selected".
const AllCategories = "all"

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// FieldPolicy describes how one paginated field is partitioned and what the
// list in its response is called.
type FieldPolicy struct {
	Field      Field
	KeyArgs    []string // filter arguments that take part in the fingerprint
	ItemsField string   // name of the list in the response ("categories", "servers", "items")
}

var policies = map[Field]FieldPolicy{
	FieldCategories: {
		Field:      FieldCategories,
		KeyArgs:    []string{ArgSearch},
		ItemsField: "categories",
	},
	FieldServersByCategory: {
		Field:      FieldServersByCategory,
		KeyArgs:    []string{ArgCategorySlug, ArgSearch},
		ItemsField: "servers",
	},
	FieldOrganisatorServers: {
		Field:      FieldOrganisatorServers,
		KeyArgs:    []string{ArgSearch},
		ItemsField: "servers",
	},
	FieldFollowedServers: {
		Field:      FieldFollowedServers,
		KeyArgs:    []string{ArgUserID},
		ItemsField: "items",
	},
}

// PolicyFor returns the registered policy of a field.
func PolicyFor(field Field) (FieldPolicy, bool) {
	p, ok := policies[field]
	return p, ok
}

// Fields returns every registered field.
func Fields() []Field {
	return []Field{FieldCategories, FieldServersByCategory, FieldOrganisatorServers, FieldFollowedServers}
}

// ParseField converts a raw field name into a registered Field.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if _, ok := policies[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// Filter holds the optional filter variables of a paginated query.
// Empty values mean "no filter".
type Filter struct {
	CategorySlug string `json:"categorySlug,omitempty" validate:"omitempty,max=128"`
	Search       string `json:"search,omitempty" validate:"omitempty,max=256"`
	UserID       string `json:"userId,omitempty" validate:"omitempty,max=128"`
}

// PageRequest is the typed descriptor of one page fetch.
type PageRequest struct {
	Field  Field  `json:"field" validate:"required,pagefield"`
	Filter Filter `json:"filter"`
	Start  int    `json:"start" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gte=1,lte=100"`
}

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("pagefield", validatePageField)
}

func validatePageField(fl validator.FieldLevel) bool {
	_, ok := policies[Field(fl.Field().String())]
	return ok
}

// Validate checks the request once at the call site. Unknown fields are
// reported as ErrUnknownField, every other violation as ErrInvalidRequest.
func (r PageRequest) Validate() error {
	if _, ok := policies[r.Field]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, r.Field)
	}
	if err := requestValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidRequest, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Normalize applies the filter normalization rule: values are trimmed,
// category slugs are lower-cased with the "all" sentinel meaning absent, and
// values the field does not key on are dropped. A zero Limit becomes
// DefaultLimit.
func (r PageRequest) Normalize() PageRequest {
	out := PageRequest{Field: r.Field, Start: r.Start, Limit: r.Limit}
	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}
	p, ok := policies[r.Field]
	if !ok {
		return out
	}
	for _, arg := range p.KeyArgs {
		switch arg {
		case ArgCategorySlug:
			slug := strings.ToLower(strings.TrimSpace(r.Filter.CategorySlug))
			if slug == AllCategories {
				slug = ""
			}
			out.Filter.CategorySlug = slug
		case ArgSearch:
			out.Filter.Search = strings.TrimSpace(r.Filter.Search)
		case ArgUserID:
			out.Filter.UserID = strings.TrimSpace(r.Filter.UserID)
		}
	}
	return out
}

// keyArgs returns the normalized key arguments of the request, in the order
// the field policy declares them.
func (r PageRequest) keyArgs() map[string]interface{} {
	args := make(map[string]interface{})
	p, ok := policies[r.Field]
	if !ok {
		return args
	}
	for _, arg := range p.KeyArgs {
		switch arg {
		case ArgCategorySlug:
			args[arg] = r.Filter.CategorySlug
		case ArgSearch:
			args[arg] = r.Filter.Search
		case ArgUserID:
			args[arg] = r.Filter.UserID
		}
	}
	return args
}
