package coord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"duelctl/internal/api"
	"duelctl/internal/config"
	"duelctl/internal/discovery"
	"duelctl/internal/events"
	"duelctl/internal/model"
)

// Coordinator discovers nodes and runs synchronized comparisons. Nodes stay
// fully independent; losing the coordinator mid-run loses reporting, not
// the jobs.
type Coordinator struct {
	Config   config.CoordinatorConfig
	Registry *Registry

	// NewClient builds the control client for a node address. Tests swap it
	// to point at httptest servers.
	NewClient func(addr string) *api.Client

	// OnEvent, when set, observes every node event as it arrives. Used by
	// the CLI to render live progress.
	OnEvent func(node string, ev events.Event)
}

// New builds a coordinator around a registry.
func New(cfg config.CoordinatorConfig, reg *Registry) *Coordinator {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Coordinator{Config: cfg, Registry: reg, NewClient: api.NewClient}
}

func (c *Coordinator) client(addr string) *api.Client {
	if c.NewClient != nil {
		return c.NewClient(addr)
	}
	return api.NewClient(addr)
}

// Discover sweeps the configured subnet and address list, refreshes the
// registry, and evicts nodes silent past the timeout.
func (c *Coordinator) Discover(ctx context.Context) ([]model.Node, error) {
	targets, err := discovery.ExpandTargets(c.Config.Subnet, c.Config.Addresses)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.New("no discovery targets configured")
	}

	prober := &discovery.Prober{
		BeaconPort: c.Config.BeaconPort,
		Timeout:    time.Duration(c.Config.ProbeTimeoutMs) * time.Millisecond,
	}
	found := prober.Sweep(ctx, targets)
	for _, node := range found {
		c.Registry.Upsert(node)
	}

	silence := time.Duration(c.Config.SilenceTimeoutSec) * time.Second
	for _, name := range c.Registry.Evict(silence, time.Now().UTC()) {
		log.Printf("discovery: evicted silent node %s", name)
	}

	return c.Registry.List(), nil
}

// RunComparison dispatches the same prompt to every registered node and
// collects terminal outcomes. Dispatch is independent per node with a
// shared not-before instant, so nodes start within the skew budget and no
// node waits on another. The comparison deadline converts still-running
// nodes into incomplete outcomes; it never cancels their jobs.
func (c *Coordinator) RunComparison(ctx context.Context, prompt string, params model.GenParams) (model.ComparisonResult, error) {
	nodes := c.Registry.List()
	if len(nodes) == 0 {
		return model.ComparisonResult{}, errors.New("no nodes registered")
	}

	deadline := time.Duration(c.Config.ComparisonSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	notBefore := time.Now().UTC().Add(time.Duration(c.Config.DispatchSkewMs) * time.Millisecond)

	outcomes := make([]model.NodeOutcome, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node model.Node) {
			defer wg.Done()
			outcomes[i] = c.runOne(runCtx, node, prompt, params, notBefore)
		}(i, node)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Node < outcomes[j].Node })

	result := model.ComparisonResult{
		Prompt:   prompt,
		Params:   params,
		Outcomes: outcomes,
		Winner:   winner(outcomes),
	}
	return result, nil
}

// runOne drives a single node through one job: subscribe, start, follow the
// stream to a terminal event. Subscription happens before dispatch so no
// event can be missed; a broken stream degrades to status polling.
func (c *Coordinator) runOne(ctx context.Context, node model.Node, prompt string, params model.GenParams, notBefore time.Time) model.NodeOutcome {
	outcome := model.NodeOutcome{
		Node:     node.Name,
		Platform: node.Platform,
		State:    "incomplete",
	}

	client := c.client(node.Addr)

	stream, streamErr := client.Events(ctx)
	if streamErr != nil {
		log.Printf("comparison: %s: event stream unavailable, will poll: %v", node.Name, streamErr)
	}

	started, err := client.Start(ctx, api.StartRequest{
		Prompt:    prompt,
		Steps:     params.Steps,
		Width:     params.Width,
		Height:    params.Height,
		Guidance:  params.Guidance,
		NotBefore: notBefore,
	})
	if err != nil {
		if errors.Is(err, api.ErrConflict) {
			outcome.State = "error"
			outcome.Reason = "node busy"
			return outcome
		}
		// A busy node answered; anything else did not.
		c.Registry.MarkUnreachable(node.Name)
		outcome.State = "error"
		outcome.Reason = err.Error()
		return outcome
	}
	outcome.JobID = started.JobID
	c.Registry.Touch(node.Name, time.Now().UTC())

	dispatchedAt := time.Now()
	if stream != nil {
		if done := c.follow(ctx, node.Name, stream, &outcome); done {
			return outcome
		}
	}
	return c.poll(ctx, client, node.Name, dispatchedAt, outcome)
}

// follow consumes the event stream until the job's terminal event. Returns
// false when the stream ends early and polling should take over.
func (c *Coordinator) follow(ctx context.Context, nodeName string, stream <-chan events.Event, outcome *model.NodeOutcome) bool {
	for {
		select {
		case <-ctx.Done():
			return true // deadline: stays incomplete
		case ev, open := <-stream:
			if !open {
				return false
			}
			if ev.JobID != outcome.JobID {
				continue
			}
			if c.OnEvent != nil {
				c.OnEvent(nodeName, ev)
			}
			switch ev.Type {
			case events.TypeCompleted:
				outcome.State = "completed"
				outcome.Tier = ev.Tier
				outcome.Simulated = ev.Simulated
				outcome.DurationSec = ev.DurationSec
				outcome.CompletedAt = time.Now().UTC()
				return true
			case events.TypeError:
				outcome.State = "error"
				outcome.Reason = ev.Reason
				return true
			}
		}
	}
}

// poll is the degraded path when no event stream is available.
func (c *Coordinator) poll(ctx context.Context, client *api.Client, nodeName string, dispatchedAt time.Time, outcome model.NodeOutcome) model.NodeOutcome {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return outcome
		case <-ticker.C:
			status, err := client.Status(ctx)
			if err != nil {
				continue
			}
			if status.JobID != outcome.JobID {
				continue
			}
			switch model.JobState(status.State) {
			case model.JobCompleted:
				outcome.State = "completed"
				outcome.Tier = status.Tier
				outcome.Simulated = status.Simulated
				outcome.DurationSec = status.ElapsedSec
				if outcome.DurationSec == 0 {
					outcome.DurationSec = time.Since(dispatchedAt).Seconds()
				}
				outcome.CompletedAt = time.Now().UTC()
				return outcome
			case model.JobError:
				outcome.State = "error"
				outcome.Reason = fmt.Sprintf("%s reported error", nodeName)
				return outcome
			}
		}
	}
}

// StopAll requests best-effort cancellation on every registered node.
func (c *Coordinator) StopAll(ctx context.Context) {
	for _, node := range c.Registry.List() {
		if err := c.client(node.Addr).Stop(ctx); err != nil {
			log.Printf("stop %s: %v", node.Name, err)
		}
	}
}

// winner picks the fastest completed node. No winner is declared when fewer
// than two nodes completed or when any node errored; a node that merely ran
// past the comparison deadline does not block the verdict.
func winner(outcomes []model.NodeOutcome) string {
	completed := 0
	best := ""
	bestDuration := 0.0
	for _, o := range outcomes {
		switch o.State {
		case "error":
			return ""
		case "completed":
			completed++
			if best == "" || o.DurationSec < bestDuration {
				best = o.Node
				bestDuration = o.DurationSec
			}
		}
	}
	if completed < 2 {
		return ""
	}
	return best
}
