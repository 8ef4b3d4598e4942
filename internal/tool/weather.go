package tool

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"soschat/internal/domain"
)

const (
	DefaultGeocodeEndpoint  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastEndpoint = "https://api.open-meteo.com/v1/forecast"
)

type WeatherConfig struct {
	GeocodeEndpoint  string
	ForecastEndpoint string
	Client           *http.Client
}

// WeatherTool resolves a place name with Open-Meteo geocoding and returns
// current conditions plus today's forecast.
type WeatherTool struct {
	geocodeEndpoint  string
	forecastEndpoint string
	client           *http.Client
}

func NewWeatherTool(cfg WeatherConfig) *WeatherTool {
	if cfg.GeocodeEndpoint == "" {
		cfg.GeocodeEndpoint = DefaultGeocodeEndpoint
	}
	if cfg.ForecastEndpoint == "" {
		cfg.ForecastEndpoint = DefaultForecastEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	return &WeatherTool{
		geocodeEndpoint:  cfg.GeocodeEndpoint,
		forecastEndpoint: cfg.ForecastEndpoint,
		client:           cfg.Client,
	}
}

func (t *WeatherTool) Name() domain.ToolName { return domain.ToolWeather }
func (t *WeatherTool) Description() string {
	return "Get current weather and today's forecast for a city or place name."
}
func (t *WeatherTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"location": {Type: "string", Description: "City or place name, e.g. \"Lisbon\""},
		},
		[]string{"location"},
	)
}

// Place is the resolved location of a weather lookup.
type Place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"`
}

type CurrentConditions struct {
	Time          string  `json:"time"`
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Humidity      float64 `json:"humidity"`
	Precipitation float64 `json:"precipitation"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection float64 `json:"wind_direction"`
	WeatherCode   int     `json:"weather_code"`
	Description   string  `json:"description"`
	IsDay         bool    `json:"is_day"`
}

type DailySummary struct {
	Date                     string  `json:"date"`
	MaxTemperature           float64 `json:"max_temperature"`
	MinTemperature           float64 `json:"min_temperature"`
	PrecipitationSum         float64 `json:"precipitation_sum"`
	PrecipitationProbability float64 `json:"precipitation_probability"`
	WeatherCode              int     `json:"weather_code"`
	Description              string  `json:"description"`
	Sunrise                  string  `json:"sunrise,omitempty"`
	Sunset                   string  `json:"sunset,omitempty"`
}

type Units struct {
	Temperature   string `json:"temperature"`
	WindSpeed     string `json:"wind_speed"`
	Precipitation string `json:"precipitation"`
	Humidity      string `json:"humidity"`
}

func (t *WeatherTool) Handle(ctx context.Context, params domain.Params) (domain.Result, error) {
	location := strings.TrimSpace(ArgsString(params, "location"))
	if location == "" {
		return domain.Failure(domain.KindInput, http.StatusBadRequest, "Missing required parameter: location"), nil
	}

	place, failure, err := t.geocode(ctx, location)
	if err != nil {
		return domain.Result{}, err
	}
	if failure != nil {
		return *failure, nil
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m,wind_direction_10m,is_day")
	q.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum,precipitation_probability_max,sunrise,sunset")
	q.Set("timezone", "auto")
	q.Set("forecast_days", "1")

	var fc forecastResponse
	if err := getJSON(ctx, t.client, "weather API", t.forecastEndpoint+"?"+q.Encode(), nil, &fc); err != nil {
		return upstreamFailure(err)
	}

	return domain.Success(map[string]any{
		"location": place,
		"current":  fc.current(),
		"daily":    fc.daily(),
		"units":    fc.units(),
	}), nil
}

func (t *WeatherTool) geocode(ctx context.Context, location string) (Place, *domain.Result, error) {
	q := url.Values{}
	q.Set("name", location)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var geo geocodeResponse
	if err := getJSON(ctx, t.client, "geocoding API", t.geocodeEndpoint+"?"+q.Encode(), nil, &geo); err != nil {
		res, err := upstreamFailure(err)
		if err != nil {
			return Place{}, nil, err
		}
		return Place{}, &res, nil
	}
	if len(geo.Results) == 0 {
		res := domain.Failure(domain.KindInput, http.StatusNotFound, "Location not found: %s", location)
		return Place{}, &res, nil
	}
	g := geo.Results[0]
	return Place{
		Name:      g.Name,
		Country:   g.Country,
		Region:    g.Admin1,
		Latitude:  g.Latitude,
		Longitude: g.Longitude,
		Timezone:  g.Timezone,
	}, nil, nil
}

// upstreamFailure converts a *StatusError into a Failure and passes other
// errors through for the dispatcher.
func upstreamFailure(err error) (domain.Result, error) {
	var se *StatusError
	if errors.As(err, &se) {
		return domain.Failure(domain.KindUpstream, se.Code, "%s", se.Error()), nil
	}
	return domain.Result{}, err
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
		Timezone  string  `json:"timezone"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time                string  `json:"time"`
		Temperature2m       float64 `json:"temperature_2m"`
		RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
		ApparentTemperature float64 `json:"apparent_temperature"`
		Precipitation       float64 `json:"precipitation"`
		WeatherCode         int     `json:"weather_code"`
		WindSpeed10m        float64 `json:"wind_speed_10m"`
		WindDirection10m    float64 `json:"wind_direction_10m"`
		IsDay               int     `json:"is_day"`
	} `json:"current"`
	CurrentUnits map[string]string `json:"current_units"`
	Daily        struct {
		Time                        []string  `json:"time"`
		WeatherCode                 []int     `json:"weather_code"`
		Temperature2mMax            []float64 `json:"temperature_2m_max"`
		Temperature2mMin            []float64 `json:"temperature_2m_min"`
		PrecipitationSum            []float64 `json:"precipitation_sum"`
		PrecipitationProbabilityMax []float64 `json:"precipitation_probability_max"`
		Sunrise                     []string  `json:"sunrise"`
		Sunset                      []string  `json:"sunset"`
	} `json:"daily"`
}

func (f *forecastResponse) current() CurrentConditions {
	c := f.Current
	return CurrentConditions{
		Time:          c.Time,
		Temperature:   c.Temperature2m,
		FeelsLike:     c.ApparentTemperature,
		Humidity:      c.RelativeHumidity2m,
		Precipitation: c.Precipitation,
		WindSpeed:     c.WindSpeed10m,
		WindDirection: c.WindDirection10m,
		WeatherCode:   c.WeatherCode,
		Description:   DescribeWeatherCode(c.WeatherCode),
		IsDay:         c.IsDay == 1,
	}
}

// daily returns the first forecast day; missing arrays leave zero values.
func (f *forecastResponse) daily() DailySummary {
	d := f.Daily
	s := DailySummary{
		Date:                     first(d.Time),
		MaxTemperature:           first(d.Temperature2mMax),
		MinTemperature:           first(d.Temperature2mMin),
		PrecipitationSum:         first(d.PrecipitationSum),
		PrecipitationProbability: first(d.PrecipitationProbabilityMax),
		WeatherCode:              first(d.WeatherCode),
		Sunrise:                  first(d.Sunrise),
		Sunset:                   first(d.Sunset),
	}
	s.Description = DescribeWeatherCode(s.WeatherCode)
	return s
}

func (f *forecastResponse) units() Units {
	u := Units{Temperature: "°C", WindSpeed: "km/h", Precipitation: "mm", Humidity: "%"}
	if v := f.CurrentUnits["temperature_2m"]; v != "" {
		u.Temperature = v
	}
	if v := f.CurrentUnits["wind_speed_10m"]; v != "" {
		u.WindSpeed = v
	}
	if v := f.CurrentUnits["precipitation"]; v != "" {
		u.Precipitation = v
	}
	if v := f.CurrentUnits["relative_humidity_2m"]; v != "" {
		u.Humidity = v
	}
	return u
}

func first[T any](s []T) T {
	var zero T
	if len(s) == 0 {
		return zero
	}
	return s[0]
}

// WMO weather interpretation codes used by Open-Meteo.
var weatherCodes = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

func DescribeWeatherCode(code int) string {
	if d, ok := weatherCodes[code]; ok {
		return d
	}
	return "Unknown"
}
