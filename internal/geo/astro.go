// Package geo resolves the configured location and computes civil dusk.
// Location resolution (geocoding) happens once at startup; the daily dusk
// computation is pure solar math with no network access.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Civil twilight: sun 6 degrees below the horizon
const civilDepression = -6.0

// Default HTTP client (timeout set per-request via context)
var httpClient = &http.Client{}

// Location is a resolved geographic location
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Calculator computes civil dusk for one configured location.
// Resolve must succeed before Dusk is used.
type Calculator struct {
	query       string
	tz          *time.Location
	httpTimeout time.Duration
	geocache    *Cache

	mu   sync.RWMutex
	loc  *Location
	dusk map[string]time.Time // dusk per date; zero time marks a polar day
}

// NewCalculator creates a calculator for the configured location.
// When lat/lon are non-zero no geocoding is performed.
func NewCalculator(name string, lat, lon float64, timezone string, httpTimeout time.Duration, geocache *Cache) (*Calculator, error) {
	tz, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}

	c := &Calculator{
		query:       name,
		tz:          tz,
		httpTimeout: httpTimeout,
		geocache:    geocache,
		dusk:        make(map[string]time.Time),
	}

	if lat != 0 || lon != 0 {
		c.loc = &Location{Name: name, Latitude: lat, Longitude: lon}
		log.Info().
			Str("name", name).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("Location pre-configured, geocoding skipped")
	}

	return c, nil
}

// Resolve makes sure the location has coordinates. Called once at startup;
// an error here means the process must not start.
func (c *Calculator) Resolve(ctx context.Context) error {
	c.mu.RLock()
	resolved := c.loc != nil
	c.mu.RUnlock()
	if resolved {
		return nil
	}

	// Persistent geocache first, so restarts work offline
	if c.geocache != nil {
		if loc, ok := c.geocache.Get(c.query); ok {
			c.mu.Lock()
			c.loc = loc
			c.mu.Unlock()
			return nil
		}
	}

	loc, err := c.geocode(ctx, c.query)
	if err != nil {
		return fmt.Errorf("resolve location %q: %w", c.query, err)
	}

	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()

	if c.geocache != nil {
		c.geocache.Put(c.query, loc)
	}
	return nil
}

// Location returns the resolved location, or nil before Resolve
func (c *Calculator) Location() *Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// Timezone returns the configured timezone
func (c *Calculator) Timezone() *time.Location {
	return c.tz
}

// Dusk returns civil dusk for the given date. ok is false on degenerate
// days (polar latitudes with no civil twilight). Results are cached per
// date, so repeated lookups for the same day compute the sun position once.
func (c *Calculator) Dusk(date time.Time) (time.Time, bool) {
	c.mu.RLock()
	loc := c.loc
	c.mu.RUnlock()
	if loc == nil {
		return time.Time{}, false
	}

	key := date.In(c.tz).Format("2006-01-02")
	c.mu.RLock()
	cached, hit := c.dusk[key]
	c.mu.RUnlock()
	if hit {
		return cached, !cached.IsZero()
	}

	dusk, ok := civilDusk(loc.Latitude, loc.Longitude, date, c.tz)
	stored := dusk
	if !ok {
		stored = time.Time{}
	}
	c.mu.Lock()
	c.dusk[key] = stored
	c.mu.Unlock()

	return dusk, ok
}

// geocode resolves a place name via Nominatim
func (c *Calculator) geocode(ctx context.Context, name string) (*Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	apiURL := fmt.Sprintf("https://nominatim.openstreetmap.org/search?q=%s&format=json&limit=1",
		url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "duskd/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("location not found: %s", name)
	}

	var lat, lon float64
	fmt.Sscanf(results[0].Lat, "%f", &lat)
	fmt.Sscanf(results[0].Lon, "%f", &lon)

	loc := &Location{
		Name:      results[0].DisplayName,
		Latitude:  lat,
		Longitude: lon,
	}

	log.Info().
		Str("query", name).
		Str("resolved", loc.Name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Location geocoded via Nominatim")

	return loc, nil
}

// civilDusk computes civil dusk for lat/lon on the given date using the
// NOAA sunrise equation. ok is false when the sun never reaches 6 degrees
// below the horizon that day.
func civilDusk(lat, lon float64, date time.Time, tz *time.Location) (time.Time, bool) {
	// Julian day - add 0.5 because the NOAA sunrise equation expects JD at noon, not midnight
	jd := toJulianDay(date.In(tz)) + 0.5

	n := jd - 2451545.0 + 0.0008
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	center := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+center+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	// Solar transit
	jTransit := 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)

	// Declination of the sun
	dec := math.Asin(math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0))

	latRad := lat * math.Pi / 180.0
	angleRad := civilDepression * math.Pi / 180.0

	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))

	// No civil twilight that day: midnight sun or polar night
	if cosOmega < -1 || cosOmega > 1 {
		return time.Time{}, false
	}

	omega := math.Acos(cosOmega) * 180.0 / math.Pi
	return julianToTime(jTransit+omega/360.0, tz, date), true
}

// toJulianDay converts a date to Julian day number
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

// julianToTime converts a Julian day to a time.Time on the reference date
func julianToTime(jd float64, tz *time.Location, refDate time.Time) time.Time {
	unixTime := (jd - 2440587.5) * 86400.0
	t := time.Unix(int64(unixTime), int64((unixTime-math.Floor(unixTime))*1e9)).In(tz)

	ref := refDate.In(tz)
	return time.Date(
		ref.Year(), ref.Month(), ref.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, tz,
	)
}
