package serviceutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerMatches(t *testing.T) {
	cases := []struct {
		header string
		ok     bool
	}{
		{header: "Bearer secret", ok: true},
		{header: "Bearer wrong", ok: false},
		{header: "secret", ok: false},
		{header: "", ok: false},
		{header: "Basic secret", ok: false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, bearerMatches(c.header, "secret"), c.header)
	}
}

func TestVerifyAccessTokenHandler(t *testing.T) {
	handler := VerifyAccessTokenHandler("secret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestGenerateAccessToken(t *testing.T) {
	a, err := GenerateAccessToken()
	require.NoError(t, err)
	b, err := GenerateAccessToken()
	require.NoError(t, err)
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestJsonCodec(t *testing.T) {
	type message struct {
		Name string `json:"name"`
	}
	codec := JsonCodec{}
	data, err := codec.Marshal(message{Name: "a"})
	require.NoError(t, err)

	var out message
	require.NoError(t, codec.Unmarshal(data, &out))
	require.Equal(t, "a", out.Name)
	require.NoError(t, codec.Unmarshal(nil, &out))
}
