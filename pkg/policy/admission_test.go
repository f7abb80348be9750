package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/veoclip/pkg/model"
	"github.com/m-mizutani/veoclip/pkg/policy"
)

const admissionPolicy = `package admission

deny contains "people are not allowed" if {
	contains(lower(input.prompt), "person")
}

deny contains "reference images must be square" if {
	input.has_image
	input.aspect_ratio != "1:1"
}
`

func writePolicy(t *testing.T, body string) string {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "admission.rego"), []byte(body), 0644))
	return dir
}

func TestAdmission(t *testing.T) {
	ctx := context.Background()
	adm, err := policy.New(ctx, writePolicy(t, admissionPolicy))
	gt.NoError(t, err)
	gt.NotNil(t, adm)

	t.Run("allowed", func(t *testing.T) {
		err := adm.Check(ctx, &model.GenerationRequest{Prompt: "a cat on a skateboard", AspectRatio: model.AspectRatioLandscape})
		gt.NoError(t, err)
	})

	t.Run("denied by prompt", func(t *testing.T) {
		err := adm.Check(ctx, &model.GenerationRequest{Prompt: "A Person walking", AspectRatio: model.AspectRatioLandscape})
		gt.True(t, errors.Is(err, policy.ErrDenied))
		gt.S(t, err.Error()).Contains("people are not allowed")
	})

	t.Run("denied by image rule", func(t *testing.T) {
		err := adm.Check(ctx, &model.GenerationRequest{
			Prompt:      "a cat",
			AspectRatio: model.AspectRatioPortrait,
			Image:       &model.Image{Data: []byte("x"), MIMEType: "image/png"},
		})
		gt.True(t, errors.Is(err, policy.ErrDenied))
		gt.S(t, err.Error()).Contains("square")
	})
}

func TestAdmissionWithoutPolicy(t *testing.T) {
	ctx := context.Background()
	adm, err := policy.New(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.Nil(t, adm)

	// nil admission allows everything
	gt.NoError(t, adm.Check(ctx, &model.GenerationRequest{Prompt: "a person", AspectRatio: model.AspectRatioSquare}))
}

func TestAdmissionInvalidPolicy(t *testing.T) {
	_, err := policy.New(context.Background(), writePolicy(t, "package admission\n\ndeny contains"))
	gt.Error(t, err)
}
