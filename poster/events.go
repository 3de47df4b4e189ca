package poster

import (
	"context"
	"fmt"
	"log/slog"
)

// Downstream log tooling greps for these exact message shapes, so they
// are emitted as fixed single-line tokens and never reformatted.
// Structured attributes ride alongside for everything else.

func emitPostStart(ctx context.Context, log *slog.Logger, index int) {
	log.InfoContext(ctx, "POST_START", "index", index)
}

func emitPostDone(ctx context.Context, log *slog.Logger, id *Identity) {
	log.InfoContext(ctx, fmt.Sprintf("POST_DONE: id=%s", id.ID),
		"strategy", string(id.Strategy), "score", id.Score)
}

func emitChain(ctx context.Context, log *slog.Logger, k, n int, parentID string) {
	if parentID == "" {
		parentID = "none"
	}
	log.InfoContext(ctx, fmt.Sprintf("THREAD_CHAIN: k=%d/%d, in_reply_to=%s", k, n, parentID))
}

func emitAborted(ctx context.Context, log *slog.Logger, k int, err error) {
	log.WarnContext(ctx, fmt.Sprintf("THREAD_ABORTED_AFTER: k=%d, error=%s", k, err))
}

func emitSessionSaved(ctx context.Context, log *slog.Logger, cookies int) {
	log.InfoContext(ctx, fmt.Sprintf("SESSION_SAVED: cookies=%d", cookies))
}
