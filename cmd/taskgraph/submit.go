package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"go-taskgraph/internal/api/dto"
	"go-taskgraph/internal/graphfile"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type SubmitCmd struct {
	File    string        `arg:"" type:"existingfile" help:"HCL graph definition."`
	Server  string        `help:"API base URL." default:"http://localhost:8080" env:"TASKGRAPH_SERVER_URL"`
	Extend  string        `help:"Add the tasks to this existing task graph instead of creating one." placeholder:"TASK-GRAPH-ID"`
	Timeout time.Duration `help:"Request timeout." default:"30s"`
}

func (cmd *SubmitCmd) Run(ctx context.Context, logger *slog.Logger) error {
	req, err := graphfile.Load(ctx, cmd.File, time.Now())
	if err != nil {
		return err
	}

	method, path := http.MethodPost, "/api/v1/task-graphs"
	var body any = req
	if cmd.Extend != "" {
		id, err := uuid.Parse(cmd.Extend)
		if err != nil {
			return errors.Wrap(err, "--extend")
		}
		method, path = http.MethodPut, "/api/v1/task-graphs/"+id.String()
		body = dto.ExtendTaskGraphRequest{Tasks: req.Tasks}
	}

	endpoint, err := url.JoinPath(cmd.Server, path)
	if err != nil {
		return errors.Wrap(err, "--server")
	}
	logger.Debug("Submitting graph", "method", method, "url", endpoint, "tasks", len(req.Tasks))

	resp, err := send(ctx, cmd.Timeout, method, endpoint, body)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(resp))
	return nil
}

type SettleCmd struct {
	Graph   string        `arg:"" help:"Task graph id."`
	Server  string        `help:"API base URL." default:"http://localhost:8080" env:"TASKGRAPH_SERVER_URL"`
	Timeout time.Duration `help:"Request timeout." default:"30s"`
}

func (cmd *SettleCmd) Run(ctx context.Context, logger *slog.Logger) error {
	id, err := uuid.Parse(cmd.Graph)
	if err != nil {
		return errors.Wrap(err, "task graph id")
	}
	endpoint, err := url.JoinPath(cmd.Server, "/api/v1/task-graphs", id.String(), "settle")
	if err != nil {
		return errors.Wrap(err, "--server")
	}
	logger.Debug("Settling graph", "url", endpoint)

	resp, err := send(ctx, cmd.Timeout, http.MethodPost, endpoint, struct{}{})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(resp))
	return nil
}

// send encodes body as JSON and returns the response body of a 2xx reply.
func send(ctx context.Context, timeout time.Duration, method, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("%s %s: %s\n%s", method, endpoint, resp.Status, respBody)
	}
	return respBody, nil
}
