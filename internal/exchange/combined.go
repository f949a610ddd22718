package exchange

import (
	"context"

	"github.com/daveintdbn/futures-ingest/internal/market"
)

// FullClient composes a RESTClient and a StreamClient behind the single
// Client interface the collectors depend on.
type FullClient struct {
	*RESTClient
	stream *StreamClient
}

// NewFullClient constructs a FullClient from a REST config and a WS base URL.
func NewFullClient(restCfg RESTClientConfig, wsBaseURL string) *FullClient {
	rc := NewRESTClient(restCfg)
	return &FullClient{
		RESTClient: rc,
		stream:     NewStreamClient(wsBaseURL, restCfg.Tracker),
	}
}

// SubscribeStreams delegates to the embedded StreamClient.
func (f *FullClient) SubscribeStreams(ctx context.Context, symbols []string, kinds []market.StreamKind) (<-chan market.StreamEvent, func(), error) {
	return f.stream.SubscribeStreams(ctx, symbols, kinds)
}

var _ Client = (*FullClient)(nil)
