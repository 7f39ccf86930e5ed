// Package production provides trace integrations for engines: channel
// fan-out, Prometheus metrics, a Redis stream tap and topology export.
package production

import (
	"context"
	"errors"

	"github.com/comalice/hsmx"
)

// ChannelPublisher forwards records to a Go channel.
// Non-blocking publish with drop on backpressure.
type ChannelPublisher struct {
	ch chan<- hsmx.Record
}

// NewChannelPublisher creates a ChannelPublisher with the given output channel.
func NewChannelPublisher(ch chan<- hsmx.Record) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, rec hsmx.Record) error {
	select {
	case p.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil // Non-blocking drop
	}
}

// Close closes the output channel. Engines using the publisher must be
// destroyed first.
func (p *ChannelPublisher) Close() error {
	close(p.ch)
	return nil
}

// MultiPublisher fans every record out to several publishers.
type MultiPublisher []hsmx.Publisher

// NewMultiPublisher drops nil entries from pubs.
func NewMultiPublisher(pubs ...hsmx.Publisher) MultiPublisher {
	out := make(MultiPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Publish delivers rec to every publisher and joins their errors.
func (m MultiPublisher) Publish(ctx context.Context, rec hsmx.Record) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
