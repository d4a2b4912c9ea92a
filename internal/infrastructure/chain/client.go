package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/quorumkit/governance-service/pkg/logger"
	"github.com/quorumkit/governance-service/pkg/metrics"
	"golang.org/x/time/rate"
)

// Client talks to the external token ledger API: the balance/delegation
// event feed the voting power ledger is built from.
type Client struct {
	baseURL     string
	httpClient  *resty.Client
	logger      *logger.Logger
	rateLimiter *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int, retryDelay time.Duration, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(retryDelay).
		SetRetryMaxWaitTime(retryDelay * 3).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		logger:      log,
		rateLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
	}
}

func (c *Client) GetEvents(ctx context.Context, params QueryParams) ([]LedgerEvent, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	url := fmt.Sprintf("%s/v1/ledger/events", c.baseURL)

	c.logger.Debugw("Fetching ledger events", "url", url, "params", params)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(c.buildQueryParams(params)).
		SetHeader("Accept", "application/json").
		Get(url)

	duration := time.Since(start).Seconds()
	success := err == nil && resp.StatusCode() == 200
	metrics.RecordChainAPIRequest(duration, success)

	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger events: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}

	var events []LedgerEvent
	if err := json.Unmarshal(resp.Body(), &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.logger.Debugw("Fetched ledger events", "count", len(events))

	return events, nil
}

func (c *Client) GetEventsFromSeq(ctx context.Context, seq uint64, limit int) ([]LedgerEvent, error) {
	params := QueryParams{
		Limit: limit,
		SeqGt: &seq,
	}
	return c.GetEvents(ctx, params)
}

func (c *Client) GetEventsSince(ctx context.Context, timestamp time.Time, limit int) ([]LedgerEvent, error) {
	params := QueryParams{
		Limit:     limit,
		SinceTime: &timestamp,
	}
	return c.GetEvents(ctx, params)
}

// GetHistoricalEvents streams the full backlog from seq in batches until the
// feed is exhausted or the context is canceled.
func (c *Client) GetHistoricalEvents(ctx context.Context, fromSeq uint64, batchSize int) (<-chan []LedgerEvent, <-chan error) {
	eventsChan := make(chan []LedgerEvent, 10)
	errorChan := make(chan error, 1)

	go func() {
		defer close(eventsChan)
		defer close(errorChan)

		cursor := fromSeq
		for {
			select {
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			default:
			}

			events, err := c.GetEventsFromSeq(ctx, cursor, batchSize)
			if err != nil {
				errorChan <- err
				return
			}

			if len(events) == 0 {
				return
			}

			eventsChan <- events
			cursor = events[len(events)-1].Seq
		}
	}()

	return eventsChan, errorChan
}

func (c *Client) buildQueryParams(params QueryParams) map[string]string {
	queryParams := make(map[string]string)

	if params.Limit > 0 {
		queryParams["limit"] = strconv.Itoa(params.Limit)
	}
	if params.Offset > 0 {
		queryParams["offset"] = strconv.Itoa(params.Offset)
	}
	if params.SeqGt != nil {
		queryParams["seq.gt"] = strconv.FormatUint(*params.SeqGt, 10)
	}
	if params.SinceTime != nil {
		queryParams["timestamp.ge"] = params.SinceTime.Format(time.RFC3339)
	}
	queryParams["sort.asc"] = "seq"

	return queryParams
}
