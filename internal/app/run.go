package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/tensorgrid/tensorgrid/internal/bridge"
	"github.com/tensorgrid/tensorgrid/internal/ctxlog"
	"github.com/tensorgrid/tensorgrid/internal/engine"
)

// Run loads the configured project, executes it once, prints the final
// outputs, and returns the run's Result. A failed run still returns the
// partial Result alongside the error.
func (a *App) Run(ctx context.Context) (*engine.Result, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	g, err := a.LoadProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	if a.config.BridgeURL != "" {
		b, err := bridge.Dial(ctx, bridge.Config{
			URL:                a.config.BridgeURL,
			InsecureSkipVerify: a.config.BridgeInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect editor bridge: %w", err)
		}
		defer b.Close()
		b.Attach(g)
	}

	a.logger.Info("🚀 Starting run...")
	res, err := engine.New(g).Run(ctx)
	if err != nil {
		if res != nil {
			// Whatever the graph produced before the failure stays
			// inspectable.
			a.printOutputs(res)
		}
		return res, fmt.Errorf("run failed: %w", err)
	}
	a.logger.Info("🏁 Run finished.")

	a.printOutputs(res)
	a.logger.Debug("App.Run method finished.")
	return res, nil
}

// printOutputs renders the packs left on dangling output pins, one line
// per pin, in stable key order.
func (a *App) printOutputs(res *engine.Result) {
	if len(res.Outputs) == 0 {
		fmt.Fprintln(a.outW, "no final outputs")
		return
	}
	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		packs := res.Outputs[k]
		first := packs[0]
		preview := make([]float64, 0, 4)
		for i := 0; i < first.Len() && i < 4; i++ {
			v, err := first.Value(i)
			if err != nil {
				break
			}
			preview = append(preview, v)
		}
		fmt.Fprintf(a.outW, "%s: %d pack(s), %s shape %v, values %v\n",
			k, len(packs), first.Kind(), first.Shape(), preview)
	}
}
