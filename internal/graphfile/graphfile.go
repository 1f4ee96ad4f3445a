// Package graphfile decodes task graph definitions written in HCL into the
// request the API accepts.
//
//	metadata {
//	  name  = "nightly"
//	  owner = "ci@example.com"
//	}
//
//	tags = { team = "infra" }
//
//	task "build" {
//	  action   = "echo"
//	  routing  = "ci"
//	  requires = ["checkout"]
//	  reruns   = 2
//	  deadline = "30m" # or an RFC 3339 timestamp
//	  payload  = { target = "linux/amd64" }
//	}
package graphfile

import (
	"context"
	"encoding/json"
	"time"

	"go-taskgraph/internal/api/dto"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/scheduler"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// DefaultDeadline applies to tasks that do not set one.
const DefaultDeadline = 24 * time.Hour

type graphFile struct {
	Metadata metadataBlock  `hcl:"metadata,block"`
	Tags     hcl.Expression `hcl:"tags,optional"`
	Tasks    []taskBlock    `hcl:"task,block"`
}

type metadataBlock struct {
	Name        string `hcl:"name"`
	Description string `hcl:"description,optional"`
	Owner       string `hcl:"owner,optional"`
	Source      string `hcl:"source,optional"`
}

type taskBlock struct {
	ID          string         `hcl:"id,label"`
	Action      string         `hcl:"action"`
	Routing     string         `hcl:"routing,optional"`
	Requires    []string       `hcl:"requires,optional"`
	Reruns      int            `hcl:"reruns,optional"`
	Deadline    string         `hcl:"deadline,optional"`
	Name        string         `hcl:"name,optional"`
	Description string         `hcl:"description,optional"`
	Payload     hcl.Expression `hcl:"payload,optional"`
}

// Load parses the graph file at path. Relative deadlines count from now.
func Load(ctx context.Context, path string, now time.Time) (*dto.CreateTaskGraphRequest, error) {
	ctxlog.FromContext(ctx).Debug("Decoding graph file", "path", path)

	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parse graph file %s", path)
	}
	req, err := decode(file.Body, now)
	if err != nil {
		return nil, errors.Wrapf(err, "decode graph file %s", path)
	}
	if req.Metadata.Source == "" {
		req.Metadata.Source = path
	}
	return req, nil
}

// Parse decodes an in-memory graph definition.
func Parse(src []byte, filename string, now time.Time) (*dto.CreateTaskGraphRequest, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parse graph file %s", filename)
	}
	return decode(file.Body, now)
}

func decode(body hcl.Body, now time.Time) (*dto.CreateTaskGraphRequest, error) {
	var f graphFile
	if diags := gohcl.DecodeBody(body, nil, &f); diags.HasErrors() {
		return nil, diags
	}

	tags, err := objectValue(f.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "tags")
	}

	req := &dto.CreateTaskGraphRequest{
		Metadata: dto.Metadata{
			Name:        f.Metadata.Name,
			Description: f.Metadata.Description,
			Owner:       f.Metadata.Owner,
			Source:      f.Metadata.Source,
		},
		Tags:  tags,
		Tasks: make([]scheduler.Node, 0, len(f.Tasks)),
	}
	for _, t := range f.Tasks {
		node, err := t.node(now)
		if err != nil {
			return nil, errors.Wrapf(err, "task %q", t.ID)
		}
		req.Tasks = append(req.Tasks, node)
	}
	return req, nil
}

func (t taskBlock) node(now time.Time) (scheduler.Node, error) {
	deadline, err := parseDeadline(t.Deadline, now)
	if err != nil {
		return scheduler.Node{}, err
	}
	payload, err := objectValue(t.Payload)
	if err != nil {
		return scheduler.Node{}, errors.Wrap(err, "payload")
	}
	requires := t.Requires
	if requires == nil {
		requires = []string{}
	}
	return scheduler.Node{
		TaskID:   t.ID,
		Requires: requires,
		Reruns:   t.Reruns,
		Task: domain.TaskDefinition{
			Routing:     t.Routing,
			Action:      t.Action,
			Name:        t.Name,
			Description: t.Description,
			Payload:     payload,
			Deadline:    deadline,
		},
	}, nil
}

// parseDeadline accepts a duration relative to now or an RFC 3339 timestamp.
func parseDeadline(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Add(DefaultDeadline).UTC(), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, errors.Errorf("deadline %q must be in the future", s)
		}
		return now.Add(d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("deadline %q is neither a duration nor an RFC 3339 timestamp", s)
	}
	return t.UTC(), nil
}

// objectValue evaluates a constant object expression into plain Go values by
// way of its JSON encoding.
func objectValue(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, errors.Errorf("must be an object, got %s", val.Type().FriendlyName())
	}
	if !val.IsWhollyKnown() {
		return nil, errors.New("must be a constant value")
	}

	raw, err := ctyjson.Marshal(val, val.Type())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
