package streamable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/exp/jsonrpc2"

	"github.com/codemaster-ai/codemaster/pkg/healthcheck"
	"github.com/codemaster-ai/codemaster/pkg/transport/session"
	"github.com/codemaster-ai/codemaster/pkg/transport/types"
)

// InvokerPinger implements healthcheck.Pinger by sending a JSON-RPC ping
// through the tool invoker. It uses a detached session so a probe never
// touches the session store.
type InvokerPinger struct {
	invoker types.ToolInvoker
}

// NewInvokerPinger creates a pinger over the given invoker.
func NewInvokerPinger(invoker types.ToolInvoker) healthcheck.Pinger {
	return &InvokerPinger{invoker: invoker}
}

// Ping sends a ping request and waits for its response frame.
func (p *InvokerPinger) Ping(ctx context.Context) error {
	pingID := fmt.Sprintf("ping_%d", time.Now().UnixNano())
	req, err := jsonrpc2.NewCall(jsonrpc2.StringID(pingID), "ping", json.RawMessage(`{}`))
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}

	frames, err := p.invoker.Invoke(ctx, session.Detached(), req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if frames == nil {
		return fmt.Errorf("ping produced no response")
	}

	for {
		select {
		case msg, ok := <-frames:
			if !ok {
				return fmt.Errorf("ping stream closed without a response")
			}
			resp, ok := msg.(*jsonrpc2.Response)
			if !ok || resp.ID != req.ID {
				continue
			}
			if resp.Error != nil {
				return fmt.Errorf("ping failed: %w", resp.Error)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
