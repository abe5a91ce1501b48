package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"

	"github.com/cadencehq/cadence/internal/pkg/logs"
)

// SSEHandler returns a hertz handler that streams bus events to the client
// as server-sent events. Both processes mount it on GET /events.
func SSEHandler(bus Bus) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.SetStatusCode(200)
		c.SetContentType("text/event-stream")
		c.Response.Header.Set("Cache-Control", "no-cache")
		c.Response.Header.Set("Connection", "keep-alive")

		pr, pw := io.Pipe()
		events, unsub := bus.Subscribe(64)

		go func() {
			defer pw.Close()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					if err := writeSSE(pw, e); err != nil {
						logs.CtxDebug(ctx, "[bridge] sse client gone: %v", err)
						return
					}
				}
			}
		}()

		c.Response.SetBodyStream(pr, -1)
	}
}

func writeSSE(w io.Writer, e Event) error {
	data, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	return err
}
