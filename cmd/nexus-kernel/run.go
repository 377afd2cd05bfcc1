// run.go implements the "run" (interactive REPL) and "exec" (one-shot turn)
// commands: translating CLI flags into OverrideTurnContext/UserTurn
// submissions against a Coordinator and waiting for each turn to settle
// before the process exits or the next prompt is read.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/session"
)

func runRun(ctx context.Context, flags *turnFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := buildKernel(ctx, flags)
	if err != nil {
		return err
	}
	defer k.shutdown()

	done := make(chan struct{})
	go func() {
		k.coord.Run(ctx)
		close(done)
	}()

	if k.sched != nil {
		k.sched.Start()
	}

	// Apply over an all-nil PartialTurnContext is a no-op, so it's safe to
	// submit unconditionally even when no override flags were set.
	k.coord.Submit(session.OverrideTurnContext{Context: overrideFromFlags(flags)})

	fmt.Fprintln(os.Stderr, "session kernel ready. type a message and press enter; /quit to exit, /compact to summarize.")

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			k.coord.Submit(session.Shutdown{})
			<-done
			return nil
		case "/compact":
			k.coord.Submit(session.Compact{})
			continue
		case "/interrupt":
			k.coord.Submit(session.Interrupt{})
			continue
		}
		k.coord.Submit(session.UserInput{Items: []historymodel.ResponseItem{userMessageFromText(line)}})
	}

	k.coord.Submit(session.Shutdown{})
	<-done
	return nil
}

func runExec(ctx context.Context, flags *turnFlags, prompt string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, err := buildKernel(ctx, flags)
	if err != nil {
		return err
	}
	defer k.shutdown()

	runDone := make(chan struct{})
	go func() {
		k.coord.Run(ctx)
		close(runDone)
	}()

	if k.sched != nil {
		k.sched.Start()
	}

	k.coord.Submit(session.UserTurn{
		Items:   []historymodel.ResponseItem{userMessageFromText(prompt)},
		Context: overrideFromFlags(flags),
	})

	k.sink.waitForTurnEnd(ctx)

	k.coord.Submit(session.Shutdown{})
	<-runDone
	return nil
}
