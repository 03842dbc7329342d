package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Geocoder resolves a free-text address to coordinates. Implementations
// never return an error to the caller: a failed lookup reports ok=false and
// the caller skips distance computation for that address.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (lat, lon float64, ok bool)
}

// NewGeocoder returns the Yandex-backed geocoder when an API key is
// configured, otherwise the deterministic stub used in development and tests.
func NewGeocoder(apiKey string) Geocoder {
	if apiKey == "" {
		return StubGeocoder{}
	}
	return &YandexGeocoder{
		APIKey: apiKey,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// YandexGeocoder resolves addresses through the Yandex Maps geocoding API.
type YandexGeocoder struct {
	APIKey  string
	Client  *http.Client
	BaseURL string
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"`
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

func (g *YandexGeocoder) Resolve(ctx context.Context, address string) (float64, float64, bool) {
	if address == "" {
		return 0, 0, false
	}

	base := g.BaseURL
	if base == "" {
		base = "https://geocode-maps.yandex.ru/1.x/"
	}

	params := url.Values{}
	params.Set("apikey", g.APIKey)
	params.Set("geocode", address)
	params.Set("format", "json")
	params.Set("results", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		logrus.WithError(err).WithField("address", address).Warn("geocode: building request failed")
		return 0, 0, false
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("address", address).Warn("geocode: request failed")
		return 0, 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"address": address,
			"status":  resp.StatusCode,
		}).Warn("geocode: provider returned non-OK status")
		return 0, 0, false
	}

	var payload yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logrus.WithError(err).WithField("address", address).Warn("geocode: decoding response failed")
		return 0, 0, false
	}

	members := payload.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return 0, 0, false
	}

	// Yandex returns "lon lat"
	parts := strings.Fields(members[0].GeoObject.Point.Pos)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, errLon := strconv.ParseFloat(parts[0], 64)
	lat, errLat := strconv.ParseFloat(parts[1], 64)
	if errLon != nil || errLat != nil {
		logrus.WithField("pos", members[0].GeoObject.Point.Pos).Warn("geocode: malformed point")
		return 0, 0, false
	}

	return lat, lon, true
}

// StubGeocoder generates pseudo-coordinates around the Moscow city center,
// offset by a hash of the address so that the same address always resolves
// to the same point. Used whenever no provider key is configured.
type StubGeocoder struct{}

func (StubGeocoder) Resolve(_ context.Context, address string) (float64, float64, bool) {
	if address == "" {
		return 0, 0, false
	}
	h := fnv.New64a()
	fmt.Fprint(h, address)
	sum := h.Sum64()

	// Two independent offsets in [-0.1, 0.1]
	latOff := float64(sum&0xFFFF)/0xFFFF*0.2 - 0.1
	lonOff := float64((sum>>16)&0xFFFF)/0xFFFF*0.2 - 0.1

	return 55.7558 + latOff, 37.6176 + lonOff, true
}
