package upstream

import (
	"fmt"

	"lobby"
)

// pageInput is the PageInput{limit,start} argument of the API.
func pageInput(req lobby.PageRequest) map[string]interface{} {
	return map[string]interface{}{"limit": req.Limit, "start": req.Start}
}

// buildQuery renders the field's query. The list is always aliased to
// "items" so every response decodes into lobby.Page.
func buildQuery(policy lobby.FieldPolicy, selection string, req lobby.PageRequest) (string, map[string]interface{}) {
	list := fmt.Sprintf("items: %s { %s } pageInfo { hasNext total }", policy.ItemsField, selection)
	filter := map[string]interface{}{
		"search":    req.Filter.Search,
		"pageInput": pageInput(req),
	}

	switch policy.Field {
	case lobby.FieldCategories:
		return fmt.Sprintf(`query Categories($filter: ServersFilter) { categories(filter: $filter) { %s } }`, list),
			map[string]interface{}{"filter": filter}
	case lobby.FieldServersByCategory:
		slug := req.Filter.CategorySlug
		if slug == "" {
			slug = lobby.AllCategories
		}
		return fmt.Sprintf(`query ServersByCategory($categorySlug: String!, $filter: ServersFilter) { serversByCategory(categorySlug: $categorySlug, filter: $filter) { %s } }`, list),
			map[string]interface{}{"categorySlug": slug, "filter": filter}
	case lobby.FieldOrganisatorServers:
		return fmt.Sprintf(`query OrganisatorServers($filter: ServersFilter) { organisatorServers(filter: $filter) { %s } }`, list),
			map[string]interface{}{"filter": filter}
	default: // lobby.FieldFollowedServers
		return fmt.Sprintf(`query FollowedServers($userId: ID, $pageInput: PageInput) { followedServers(userId: $userId, pageInput: $pageInput) { %s } }`, list),
			map[string]interface{}{"userId": req.Filter.UserID, "pageInput": pageInput(req)}
	}
}
