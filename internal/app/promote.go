package app

import (
	"context"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/failure"
	"github.com/specialistvlad/stagegate/internal/layer"
	"github.com/specialistvlad/stagegate/internal/publish"
	"github.com/specialistvlad/stagegate/internal/verdict"
)

// Promotion is the outcome of a successful promote.
type Promotion struct {
	Stage   string
	Layer   *layer.Layer
	Verdict *verdict.Record
	// Receipt is set when the layer was published.
	Receipt *publish.Receipt
}

// Promote checks that the required test stage verified the production
// layer and, when a publish URL is configured, uploads the layer without its
// secrets file. A stage that requires no test stage is never promoted.
func (a *App) Promote(ctx context.Context, stageName, buildID string) (*Promotion, error) {
	ctx = a.withLogger(ctx)

	s, err := a.prodStage(stageName)
	if err != nil {
		return nil, err
	}
	if s.Require == "" {
		return nil, failure.Newf(failure.PromotionRefused, "promote "+s.Name, "stage declares no required test stage")
	}
	lay, err := a.openLayer(s, buildID)
	if err != nil {
		return nil, err
	}
	ctx = ctxlog.With(ctx, "stage", s.Name, "build_id", lay.BuildID)

	rec, err := a.checkPromotion(ctx, s, lay)
	if err != nil {
		return nil, err
	}
	p := &Promotion{Stage: s.Name, Layer: lay, Verdict: rec}

	if a.config.PublishURL == "" {
		return p, nil
	}
	exclude, err := a.secretsPath(s, lay)
	if err != nil {
		return nil, err
	}
	u := publish.NewUploader(0)
	defer u.Close()
	p.Receipt, err = u.Layer(ctx, lay, a.config.PublishURL, exclude)
	if err != nil {
		return p, err
	}
	return p, nil
}
