package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/openllm-network/oracled/oracle/client"
	"github.com/openllm-network/oracled/oracle/config"
	"github.com/openllm-network/oracled/oracle/ingest"
	"github.com/openllm-network/oracled/oracle/keys"
	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/nodeset"
	"github.com/openllm-network/oracled/oracle/pipeline"
	"github.com/openllm-network/oracled/oracle/provider"
	"github.com/openllm-network/oracled/oracle/store"
	"github.com/openllm-network/oracled/oracle/types"
)

// Daemon wires the chain client, ingester, node-set tracker, and request
// pipeline into one process.
type Daemon struct {
	client   *client.Client
	store    *store.Store
	tracker  *nodeset.Tracker
	ingester *ingest.Ingester
	pipeline *pipeline.Manager

	ctx context.Context
	wg  sync.WaitGroup
}

// New builds all components from the loaded configuration.
func New(ctx context.Context, wallet *keys.Wallet) (*Daemon, error) {
	chainClient, err := client.Dial(ctx, config.RPCEndpoint(), config.WSEndpoint(), config.ContractAddress(), wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client: %w", err)
	}

	st := store.New(config.StorageDir())
	tracker := nodeset.New(chainClient, wallet.Address())

	d := &Daemon{
		client:   chainClient,
		store:    st,
		tracker:  tracker,
		ingester: ingest.New(chainClient, config.CursorFile(), config.ChannelSize()),
		pipeline: pipeline.NewManager(chainClient, provider.NewDispatcher(), tracker, st, wallet.Address()),
		ctx:      ctx,
	}

	return d, nil
}

// Start refreshes the node set, starts event ingestion, and launches the
// event router.
func (d *Daemon) Start() error {
	if err := d.tracker.Refresh(d.ctx); err != nil {
		return fmt.Errorf("failed to load authorized node set: %w", err)
	}

	if err := d.ingester.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start ingester: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.route()
	}()

	return nil
}

// route dispatches decoded events: requests to the pipeline, membership
// changes to the tracker.
func (d *Daemon) route() {
	for event := range d.ingester.Events() {
		switch ev := event.(type) {
		case types.NewRequestEvent:
			d.pipeline.Submit(d.ctx, ev)
		case types.NodeChangeEvent:
			log.Infof("membership change: node %s added=%t", ev.Node.Hex(), ev.Added)
			if err := d.tracker.Refresh(d.ctx); err != nil {
				log.Errorf("failed to refresh node set: %v", err)
			}
		}
	}
}

// Stop waits for ingestion and in-flight tasks to drain, then closes the
// chain client. The caller cancels the daemon context first.
func (d *Daemon) Stop() {
	d.ingester.Wait()
	d.wg.Wait()
	d.pipeline.Wait()
	d.client.Close()
	log.Info("daemon stopped")
}
