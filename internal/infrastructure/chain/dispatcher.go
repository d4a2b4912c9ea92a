package chain

import (
	"context"
	"fmt"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
)

// Dispatcher posts proposal actions to the external execution endpoint. It
// implements timelock.ActionExecutor; a non-2xx reply is an action failure
// the timelock surfaces without marking the operation terminal.
type Dispatcher struct {
	baseURL    string
	httpClient *resty.Client
	logger     *logger.Logger
}

func NewDispatcher(baseURL string, timeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		baseURL:    baseURL,
		httpClient: resty.New().SetTimeout(timeout),
		logger:     log,
	}
}

func (d *Dispatcher) Apply(ctx context.Context, action domain.Action) error {
	url := fmt.Sprintf("%s/v1/actions/%s", d.baseURL, action.Target)

	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ActionRequest{
			Target:  action.Target,
			Value:   action.Value,
			Payload: action.Payload,
		}).
		Post(url)

	if err != nil {
		return fmt.Errorf("failed to dispatch action to %s: %w", action.Target, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("action target %s replied %d: %s", action.Target, resp.StatusCode(), string(resp.Body()))
	}

	d.logger.Debugw("Action dispatched", "target", action.Target, "value", action.Value)
	return nil
}
