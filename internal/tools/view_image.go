package tools

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/events"
)

type viewImageArgs struct {
	Path string `json:"path"`
}

func viewImageHandler(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
	var args viewImageArgs
	if err := decodeArgs(call, &args); err != nil {
		return Output{}, err
	}
	if args.Path == "" {
		return Output{Content: "view_image requires a non-empty path", Success: false}, nil
	}

	hctx.Events.Publish(events.ImageViewed{CallID: call.CallID, Path: args.Path})
	// The image itself is threaded into the next turn's request prefix by
	// the Turn Runner, not returned here; this call only records intent.
	return Output{Content: "Image recorded for next turn", Success: true}, nil
}
