package dvf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const userAgent = "ParisDVF Analytics/1.0"

// Client retrieves raw mutation records and cadastral parcels from the
// public open-data APIs. It holds no state across calls beyond its HTTP
// session and rate limiter.
type Client struct {
	baseURL     string
	cadastreURL string
	pageSize    int
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryPolicy
	logger      *logrus.Logger
}

// ClientOptions carries the scraping knobs from configuration.
type ClientOptions struct {
	BaseURL         string
	CadastreBaseURL string
	PageSize        int
	PagesPerSecond  float64
	Retry           RetryPolicy
}

func NewClient(opts ClientOptions, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.PagesPerSecond <= 0 {
		opts.PagesPerSecond = 2
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}

	return &Client{
		baseURL:     opts.BaseURL,
		cadastreURL: opts.CadastreBaseURL,
		pageSize:    opts.PageSize,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(opts.PagesPerSecond), 1),
		retry:       opts.Retry,
		logger:      logger,
	}
}

type mutationsPage struct {
	Count   int        `json:"count"`
	Next    string     `json:"next"`
	Results []Mutation `json:"results"`
}

// FetchMutations retrieves every mutation for one INSEE code over the
// given year range, following pagination until the API is exhausted.
// Retrieval failures abandon the code and return whatever was already
// accumulated; only context cancellation is surfaced as an error.
func (c *Client) FetchMutations(ctx context.Context, codeInsee, anneeMin, anneeMax string) ([]Mutation, error) {
	var mutations []Mutation

	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return mutations, err
		}

		var current *mutationsPage
		err := c.retry.Do(ctx, func() error {
			p, err := c.fetchPage(ctx, codeInsee, anneeMin, anneeMax, page)
			if err != nil {
				return err
			}
			current = p
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return mutations, ctx.Err()
			}
			c.logger.WithError(err).WithFields(logrus.Fields{
				"code_insee": codeInsee,
				"page":       page,
			}).Warn("Abandoning commune after failed page fetch")
			return mutations, nil
		}

		if len(current.Results) == 0 {
			return mutations, nil
		}
		mutations = append(mutations, current.Results...)

		c.logger.WithFields(logrus.Fields{
			"code_insee": codeInsee,
			"page":       page,
			"records":    len(current.Results),
			"total":      len(mutations),
		}).Info("Fetched mutations page")

		if current.Next == "" {
			return mutations, nil
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, codeInsee, anneeMin, anneeMax string, page int) (*mutationsPage, error) {
	params := url.Values{
		"code_insee":   []string{codeInsee},
		"anneemut_min": []string{anneeMin},
		"anneemut_max": []string{anneeMax},
		"page":         []string{strconv.Itoa(page)},
		"page_size":    []string{strconv.Itoa(c.pageSize)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &StatusError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request rejected: %w", &nonRetryableStatus{resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var p mutationsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse page %d for %s: %w", page, codeInsee, err)
	}
	return &p, nil
}

// nonRetryableStatus marks 4xx responses so the retry predicate never
// picks them up through StatusError.
type nonRetryableStatus struct {
	status int
}

func (e *nonRetryableStatus) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

// FetchParcelles retrieves the cadastral parcel FeatureCollection for
// one commune. Unlike mutations there is no pagination; the bundle is a
// single GeoJSON document.
func (c *Client) FetchParcelles(ctx context.Context, codeInsee string) (*geojson.FeatureCollection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/geojson/parcelles", c.cadastreURL, codeInsee)

	var fc *geojson.FeatureCollection
	err := c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &StatusError{Status: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("cadastre request rejected: %w", &nonRetryableStatus{resp.StatusCode})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		parsed, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return fmt.Errorf("failed to parse cadastre for %s: %w", codeInsee, err)
		}
		fc = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"code_insee": codeInsee,
		"features":   len(fc.Features),
	}).Info("Fetched cadastre parcels")
	return fc, nil
}
