package tenancy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserRoundTrip(t *testing.T) {
	_, err := GetUserID(context.Background())
	assert.ErrorIs(t, err, ErrNoUserInContext)

	ctx := WithUser(context.Background(), "alice")
	user, err := GetUserID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, Anonymous, UserOrAnonymous(context.Background()))
}

func TestUserMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "alice", "", "alice"},
		{"query", "", "bob", "bob"},
		{"header wins", "alice", "bob", "alice"},
		{"none", "", "", Anonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := UserMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = UserKeyFunc(r)
			}))

			target := "/v1/settings"
			if tt.query != "" {
				target += "?user=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set(UserHeader, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}
