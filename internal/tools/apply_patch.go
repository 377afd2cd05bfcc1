package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/pkg/events"
)

// patchArgs is the unified-patch envelope apply_patch decodes into.
type patchArgs struct {
	Patch string `json:"patch"`
}

// patchHunk is one file-level change parsed out of the unified-patch
// envelope: add, update, or delete.
type patchHunk struct {
	Op   string // "add", "update", "delete"
	Path string
	Body string // new file contents for add/update
}

// ErrMalformedPatch is returned when the envelope can't be parsed into
// hunks at all.
type malformedPatchError struct{ detail string }

func (e *malformedPatchError) Error() string { return "malformed patch: " + e.detail }

// parsePatchEnvelope parses the Codex-style `*** Begin Patch` /
// `*** Add File: path` / `*** Update File: path` / `*** Delete File: path`
// / `*** End Patch` envelope into hunks. Unknown directive lines are
// rejected rather than silently ignored.
func parsePatchEnvelope(patch string) ([]patchHunk, error) {
	lines := strings.Split(patch, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "*** Begin Patch" {
		return nil, &malformedPatchError{detail: "missing '*** Begin Patch' header"}
	}

	var hunks []patchHunk
	var cur *patchHunk
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Body = body.String()
			hunks = append(hunks, *cur)
		}
		cur = nil
		body.Reset()
	}

	for _, line := range lines[1:] {
		switch {
		case strings.TrimSpace(line) == "*** End Patch":
			flush()
			return hunks, nil
		case strings.HasPrefix(line, "*** Add File: "):
			flush()
			cur = &patchHunk{Op: "add", Path: strings.TrimPrefix(line, "*** Add File: ")}
		case strings.HasPrefix(line, "*** Update File: "):
			flush()
			cur = &patchHunk{Op: "update", Path: strings.TrimPrefix(line, "*** Update File: ")}
		case strings.HasPrefix(line, "*** Delete File: "):
			flush()
			hunks = append(hunks, patchHunk{Op: "delete", Path: strings.TrimPrefix(line, "*** Delete File: ")})
		default:
			if cur != nil {
				body.WriteString(strings.TrimPrefix(line, "+"))
				body.WriteByte('\n')
			}
		}
	}
	return nil, &malformedPatchError{detail: "missing '*** End Patch' trailer"}
}

// validateHunks checks every hunk against the filesystem before anything is
// written: add must not already exist, update/delete must.
func validateHunks(hunks []patchHunk) error {
	for _, h := range hunks {
		info, err := os.Stat(h.Path)
		exists := err == nil
		switch h.Op {
		case "add":
			if exists {
				return fmt.Errorf("add target already exists: %s", h.Path)
			}
		case "update", "delete":
			if !exists {
				return fmt.Errorf("%s target does not exist: %s", h.Op, h.Path)
			}
			if info.IsDir() {
				return fmt.Errorf("%s target is a directory: %s", h.Op, h.Path)
			}
		default:
			return fmt.Errorf("unknown hunk op: %s", h.Op)
		}
	}
	return nil
}

func applyHunks(hunks []patchHunk) error {
	for _, h := range hunks {
		switch h.Op {
		case "add", "update":
			if err := os.MkdirAll(filepath.Dir(h.Path), 0o755); err != nil {
				return err
			}
			f, err := os.Create(h.Path)
			if err != nil {
				return err
			}
			w := bufio.NewWriter(f)
			if _, err := w.WriteString(h.Body); err != nil {
				f.Close()
				return err
			}
			if err := w.Flush(); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case "delete":
			if err := os.Remove(h.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func writableRootsFor(hunks []patchHunk) []string {
	seen := map[string]bool{}
	var roots []string
	for _, h := range hunks {
		dir := filepath.Dir(h.Path)
		if !seen[dir] {
			seen[dir] = true
			roots = append(roots, dir)
		}
	}
	return roots
}

func applyPatchHandler(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
	var args patchArgs
	if err := decodeArgs(call, &args); err != nil {
		return Output{}, err
	}

	hunks, err := parsePatchEnvelope(args.Patch)
	if err != nil {
		return Output{Content: err.Error(), Success: false}, nil
	}
	if err := validateHunks(hunks); err != nil {
		return Output{Content: err.Error(), Success: false}, nil
	}

	roots := writableRootsFor(hunks)
	decision := approval.Decide(approval.CallKindPatch, approval.Details{
		WritableRoots:            roots,
		IsPostSandboxDenialRetry: hctx.IsRetryAfterSandboxDenial,
	}, hctx.TurnContext.ApprovalPolicy, hctx.TurnContext.SandboxPolicy, *hctx.SessionGrants)

	if decision.Outcome == approval.Deny {
		return Output{Content: approval.DeniedOutputContent, Success: false}, nil
	}
	if decision.Outcome == approval.Ask {
		if hctx.RequestApproval == nil {
			return Output{Content: approval.DeniedOutputContent, Success: false}, nil
		}
		hctx.Events.Publish(events.PatchApprovalRequest{CallID: call.CallID, Changes: pathsOf(hunks), Reason: decision.Reason})
		resp := hctx.RequestApproval(ctx, approval.CallKindPatch, approval.Details{WritableRoots: roots})
		approval.Record(resp, approval.CallKindPatch, approval.Details{WritableRoots: roots}, hctx.SessionGrants)
		if resp == approval.Denied {
			return Output{Content: approval.DeniedOutputContent, Success: false}, nil
		}
	}

	hctx.Events.Publish(events.PatchApplyBegin{CallID: call.CallID, Paths: pathsOf(hunks)})
	applyErr := applyHunks(hunks)
	hctx.Events.Publish(events.PatchApplyEnd{CallID: call.CallID, Success: applyErr == nil, Error: errString(applyErr)})
	if applyErr != nil {
		return Output{Content: applyErr.Error(), Success: false}, nil
	}

	return Output{Content: fmt.Sprintf("Applied patch to %d file(s)", len(hunks)), Success: true}, nil
}

func pathsOf(hunks []patchHunk) []string {
	paths := make([]string, len(hunks))
	for i, h := range hunks {
		paths[i] = h.Path
	}
	return paths
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
