package policy

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const admissionQuery = "data.admission"

// ErrDenied is returned when a request is rejected by the admission policy
var ErrDenied = goerr.New("request denied by policy")

// Admission evaluates Rego rules under package admission against each
// generation request before it is submitted. Every message in the deny set
// rejects the request.
//
//	package admission
//
//	deny contains "people are not allowed" if {
//		contains(lower(input.prompt), "person")
//	}
type Admission struct {
	query *rego.PreparedEvalQuery
}

// printHook routes Rego print() to the logger in ctx
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// New loads the admission policy from policyDir. It returns nil without an
// error when the directory has no Rego files.
func New(ctx context.Context, policyDir string) (*Admission, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}
	if len(modules) == 0 {
		return nil, nil
	}

	query, err := prepareQuery(ctx, modules, admissionQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission policy", goerr.V("dir", policyDir))
	}
	return &Admission{query: query}, nil
}

func requestInput(req *model.GenerationRequest) map[string]any {
	input := map[string]any{
		"prompt":       req.Prompt,
		"aspect_ratio": string(req.AspectRatio),
		"has_image":    req.Image != nil,
	}
	if req.Image != nil {
		input["image"] = map[string]any{
			"mime_type": req.Image.MIMEType,
			"size":      len(req.Image.Data),
		}
	}
	return input
}

// Check evaluates the policy. A nil Admission allows everything.
func (x *Admission) Check(ctx context.Context, req *model.GenerationRequest) error {
	if x == nil {
		return nil
	}

	rs, err := x.query.Eval(ctx, rego.EvalInput(requestInput(req)), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate admission policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return goerr.New("invalid admission result: not an object")
	}

	denyData, ok := data["deny"]
	if !ok {
		return nil
	}
	denies, ok := denyData.([]any)
	if !ok {
		return goerr.New("invalid admission result: deny is not a set")
	}
	if len(denies) == 0 {
		return nil
	}

	messages := make([]string, 0, len(denies))
	for _, d := range denies {
		if msg, ok := d.(string); ok {
			messages = append(messages, msg)
		}
	}
	return goerr.Wrap(ErrDenied, strings.Join(messages, "; "), goerr.V("prompt", req.Prompt))
}
