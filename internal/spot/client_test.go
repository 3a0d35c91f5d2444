package spot_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/spot"
)

func TestClientQuote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Access-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"usdPerOz":2043.55,"updatedAt":"2026-01-05T10:00:00Z","provider":"goldapi"}`))
	}))
	defer srv.Close()

	client := spot.NewClient(srv.URL, "secret", time.Second)
	q, err := client.Quote(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2043.55, q.UsdPerOz)
	require.Equal(t, "goldapi", q.Provider)
	require.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).Unix(), q.ObservedAt)
}

func TestClientQuoteUnavailable(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"zero price": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"usdPerOz":0}`))
		},
		"negative price": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"usdPerOz":-12}`))
		},
		"upstream error": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"usdPerOz":2000,"error":"rate limited"}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			client := spot.NewClient(srv.URL, "", time.Second)
			_, err := client.Quote(context.Background())
			require.ErrorIs(t, err, spot.ErrUnavailable)
		})
	}
}

func TestCachedQuote(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	calls := 0
	oracle := spot.OracleFunc(func(ctx context.Context) (pricing.Quote, error) {
		calls++
		return pricing.Quote{UsdPerOz: 1999.99, ObservedAt: 1_700_000_000, Provider: "test"}, nil
	})

	cached := &spot.Cached{Oracle: oracle, R: rdb, TTL: 15 * time.Second}

	for i := 0; i < 3; i++ {
		q, err := cached.Quote(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1999.99, q.UsdPerOz)
	}
	require.Equal(t, 1, calls)

	// expiry forces a refetch
	mr.FastForward(16 * time.Second)
	_, err := cached.Quote(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestHandlerUnavailable(t *testing.T) {
	t.Parallel()

	oracle := spot.OracleFunc(func(ctx context.Context) (pricing.Quote, error) {
		return pricing.Quote{}, spot.ErrUnavailable
	})
	rr := httptest.NewRecorder()
	spot.Handler{Oracle: oracle}.Get(rr, httptest.NewRequest(http.MethodGet, "/api/v1/spot", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
