package lobby_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobby"
)

func TestParseField(t *testing.T) {
	for _, f := range lobby.Fields() {
		got, err := lobby.ParseField(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := lobby.ParseField("channels")
	assert.True(t, errors.Is(err, lobby.ErrUnknownField))
}

func TestPageRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     lobby.PageRequest
		wantErr error
	}{
		{"valid", lobby.PageRequest{Field: lobby.FieldCategories, Start: 0, Limit: 10}, nil},
		{"unknown field", lobby.PageRequest{Field: "channels", Limit: 10}, lobby.ErrUnknownField},
		{"empty field", lobby.PageRequest{Limit: 10}, lobby.ErrUnknownField},
		{"negative start", lobby.PageRequest{Field: lobby.FieldCategories, Start: -1, Limit: 10}, lobby.ErrInvalidRequest},
		{"zero limit", lobby.PageRequest{Field: lobby.FieldCategories, Limit: 0}, lobby.ErrInvalidRequest},
		{"limit too large", lobby.PageRequest{Field: lobby.FieldCategories, Limit: lobby.MaxLimit + 1}, lobby.ErrInvalidRequest},
		{"search too long", lobby.PageRequest{
			Field:  lobby.FieldCategories,
			Filter: lobby.Filter{Search: strings.Repeat("x", 257)},
			Limit:  10,
		}, lobby.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPageRequest_Normalize(t *testing.T) {
	req := lobby.PageRequest{
		Field: lobby.FieldServersByCategory,
		Filter: lobby.Filter{
			CategorySlug: "  FPS ",
			Search:       "  halo  ",
			UserID:       "u1", // not a key arg of serversByCategory
		},
		Start: 20,
	}
	n := req.Normalize()
	assert.Equal(t, "fps", n.Filter.CategorySlug)
	assert.Equal(t, "halo", n.Filter.Search)
	assert.Empty(t, n.Filter.UserID)
	assert.Equal(t, 20, n.Start)
	assert.Equal(t, lobby.DefaultLimit, n.Limit)

	all := lobby.PageRequest{Field: lobby.FieldServersByCategory, Filter: lobby.Filter{CategorySlug: "All"}}.Normalize()
	assert.Empty(t, all.Filter.CategorySlug)
}

func TestFingerprint(t *testing.T) {
	base := lobby.PageRequest{Field: lobby.FieldServersByCategory, Filter: lobby.Filter{CategorySlug: "fps", Search: "halo"}, Limit: 10}

	fp := lobby.Fingerprint(base)
	assert.True(t, strings.HasPrefix(fp, "page:serversByCategory:"), fp)
	assert.Len(t, strings.TrimPrefix(fp, "page:serversByCategory:"), 16)

	t.Run("offset and limit do not matter", func(t *testing.T) {
		other := base
		other.Start, other.Limit = 40, 20
		assert.Equal(t, fp, lobby.Fingerprint(other))
	})
	t.Run("non-key filter values do not matter", func(t *testing.T) {
		other := base
		other.Filter.UserID = "someone"
		assert.Equal(t, fp, lobby.Fingerprint(other))
	})
	t.Run("key filter values matter", func(t *testing.T) {
		other := base
		other.Filter.Search = "apex"
		assert.NotEqual(t, fp, lobby.Fingerprint(other))
	})
	t.Run("absent category equals all", func(t *testing.T) {
		a := lobby.PageRequest{Field: lobby.FieldServersByCategory}
		b := lobby.PageRequest{Field: lobby.FieldServersByCategory, Filter: lobby.Filter{CategorySlug: lobby.AllCategories}}
		assert.Equal(t, lobby.Fingerprint(a), lobby.Fingerprint(b))
	})
	t.Run("fields are partitioned", func(t *testing.T) {
		a := lobby.PageRequest{Field: lobby.FieldCategories}
		b := lobby.PageRequest{Field: lobby.FieldOrganisatorServers}
		assert.NotEqual(t, lobby.Fingerprint(a), lobby.Fingerprint(b))
	})
}

func TestBucketKey(t *testing.T) {
	assert.Equal(t, "page:categories:abcd1234:20", lobby.BucketKey("page:categories:abcd1234", 20))
	b := lobby.Bucket{Fingerprint: "page:categories:abcd1234", Start: 0}
	assert.Equal(t, "page:categories:abcd1234:0", b.Key())
}
