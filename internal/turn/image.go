package turn

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/switchboard/internal/llm"
	"github.com/raphaelgruber/switchboard/internal/metrics"
	"github.com/raphaelgruber/switchboard/internal/models"
)

// ImageExecutor generates an image. A failed generation is reported inline
// and still ends the turn normally.
type ImageExecutor struct {
	deps Deps
}

func (e *ImageExecutor) Kind() models.ActionKind { return models.ActionImage }

func (e *ImageExecutor) Execute(ctx context.Context, t *Turn) (Outcome, error) {
	t.separate()
	t.Emit(fmt.Sprintf("Generating an image of %q...\n\n", t.CurrentPrompt))
	t.Control(ControlEvent{Type: EventImageGenerationStart, Prompt: t.CurrentPrompt})

	if e.deps.Images == nil {
		t.Emit(imageFailure(llm.ErrImageUnavailable))
		return Terminal, nil
	}

	img, err := e.deps.Images.GenerateImage(ctx, t.CurrentPrompt, e.deps.ImageModel)
	if err != nil {
		if ctx.Err() != nil {
			return Terminal, ctx.Err()
		}
		e.deps.logger().Warn("image generation failed", "conversation_id", t.Request().ConversationID, "error", err)
		t.Emit(imageFailure(err))
		return Terminal, nil
	}

	if e.deps.Usage != nil {
		if err := e.deps.Usage.RecordUsage(ctx, t.Request().UserID, metrics.FeatureImage); err != nil {
			e.deps.logger().Warn("failed to record image usage", "error", err)
		}
	}

	t.SetMetadata(MetaImageData, img.DataURL())
	t.Emit("Here's your image.")
	return Terminal, nil
}

func imageFailure(err error) string {
	if errors.Is(err, llm.ErrFatalAPI) {
		return "_Image generation failed: the image service rejected the request (quota or credentials)._"
	}
	return fmt.Sprintf("_Image generation failed: %v_", err)
}
