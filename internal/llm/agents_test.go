package llm

import (
	"context"
	"strings"
	"testing"
)

type echoClient struct{}

func (echoClient) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	return systemPrompt + "|" + userInput, nil
}

func TestAgentRunUsesNormalPriority(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewQueue(ctx, echoClient{}, 2, 8, discardLogger())

	out, err := Director.Run(ctx, q, "history goes here")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, Director.SystemPrompt) || !strings.Contains(out, "history goes here") {
		t.Errorf("expected echoed prompt+input, got %q", out)
	}
}

func TestAgentRunHighPriorityRoutesToHighLane(t *testing.T) {
	t.Parallel()

	high := make(chan queuedRequest, 1)
	normal := make(chan queuedRequest, 1)
	q := &Queue{client: echoClient{}, high: high, normal: normal, logger: discardLogger()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := Risk.RunHighPriority(context.Background(), q, "proposal"); err != nil {
			t.Errorf("RunHighPriority: %v", err)
		}
	}()

	select {
	case req := <-high:
		req.resp <- queuedResult{text: "ok"}
	case <-normal:
		t.Fatal("RunHighPriority enqueued onto the normal lane")
	}
	<-done
}

func TestAllAgentsHaveDistinctPrompts(t *testing.T) {
	t.Parallel()
	agents := []Agent{Director, Quant, Risk, Execution}
	seen := make(map[string]bool)
	for _, a := range agents {
		if a.SystemPrompt == "" {
			t.Errorf("%s: empty system prompt", a.AgentName)
		}
		if seen[a.SystemPrompt] {
			t.Errorf("%s: duplicate system prompt", a.AgentName)
		}
		seen[a.SystemPrompt] = true
	}
}
