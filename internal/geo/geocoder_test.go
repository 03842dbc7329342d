package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubGeocoderDeterministic(t *testing.T) {
	g := StubGeocoder{}
	ctx := context.Background()

	lat1, lon1, ok := g.Resolve(ctx, "ул. Ленина, 10")
	require.True(t, ok)
	lat2, lon2, ok := g.Resolve(ctx, "ул. Ленина, 10")
	require.True(t, ok)

	assert.Equal(t, lat1, lat2)
	assert.Equal(t, lon1, lon2)

	// Different addresses land on different points
	lat3, lon3, ok := g.Resolve(ctx, "пр. Мира, 25")
	require.True(t, ok)
	assert.False(t, lat1 == lat3 && lon1 == lon3)
}

func TestStubGeocoderStaysNearCityCenter(t *testing.T) {
	g := StubGeocoder{}
	lat, lon, ok := g.Resolve(context.Background(), "some address")
	require.True(t, ok)
	assert.InDelta(t, 55.7558, lat, 0.1)
	assert.InDelta(t, 37.6176, lon, 0.1)
}

func TestStubGeocoderEmptyAddress(t *testing.T) {
	g := StubGeocoder{}
	_, _, ok := g.Resolve(context.Background(), "")
	assert.False(t, ok)
}

func TestNewGeocoderSelection(t *testing.T) {
	assert.IsType(t, StubGeocoder{}, NewGeocoder(""))
	assert.IsType(t, &YandexGeocoder{}, NewGeocoder("some-key"))
}

func TestYandexGeocoderParsesPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		// Yandex reports positions as "lon lat"
		w.Write([]byte(`{"response":{"GeoObjectCollection":{"featureMember":[{"GeoObject":{"Point":{"pos":"37.6176 55.7558"}}}]}}}`))
	}))
	defer srv.Close()

	g := &YandexGeocoder{
		APIKey:  "test-key",
		Client:  &http.Client{Timeout: time.Second},
		BaseURL: srv.URL,
	}

	lat, lon, ok := g.Resolve(context.Background(), "Москва, Красная площадь")
	require.True(t, ok)
	assert.InDelta(t, 55.7558, lat, 1e-9)
	assert.InDelta(t, 37.6176, lon, 1e-9)
}

func TestYandexGeocoderNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":{"GeoObjectCollection":{"featureMember":[]}}}`))
	}))
	defer srv.Close()

	g := &YandexGeocoder{
		APIKey:  "test-key",
		Client:  &http.Client{Timeout: time.Second},
		BaseURL: srv.URL,
	}

	_, _, ok := g.Resolve(context.Background(), "nowhere")
	assert.False(t, ok)
}

func TestYandexGeocoderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := &YandexGeocoder{
		APIKey:  "bad-key",
		Client:  &http.Client{Timeout: time.Second},
		BaseURL: srv.URL,
	}

	_, _, ok := g.Resolve(context.Background(), "Москва")
	assert.False(t, ok)
}
