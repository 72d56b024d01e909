package endpoint

import (
	"fmt"
)

// Catalog is the built, immutable registry of every endpoint, partitioned by
// delivery mode so each subscription host can iterate only what it serves.
type Catalog struct {
	all []*Descriptor

	requestReply []*Descriptor
	corePubSub   []*Descriptor
	jsConsume    []*Descriptor
	jsFetch      []*Descriptor
}

// BuildCatalog flattens controllers into a catalog. Two endpoints resolving
// to the same subject on the same connection in the same mode would shadow
// each other at subscribe time, so that is rejected here rather than
// discovered in production.
func BuildCatalog(controllers ...*Controller) (*Catalog, error) {
	cat := &Catalog{}
	seen := make(map[string]*Descriptor)

	for _, c := range controllers {
		for _, d := range c.endpoints {
			key := fmt.Sprintf("%s|%s|%s", d.Connection, d.Mode, d.ResolvedSubject())
			if prev, ok := seen[key]; ok {
				return nil, fmt.Errorf(
					"duplicate endpoint: %s.%s and %s.%s both resolve to %q (%s)",
					prev.Controller, prev.Action, d.Controller, d.Action,
					d.ResolvedSubject(), d.Mode)
			}
			seen[key] = d

			cat.all = append(cat.all, d)
			switch d.Mode {
			case ModeRequestReply:
				cat.requestReply = append(cat.requestReply, d)
			case ModeCorePubSub:
				cat.corePubSub = append(cat.corePubSub, d)
			case ModeJetStreamConsume:
				cat.jsConsume = append(cat.jsConsume, d)
			case ModeJetStreamFetch:
				cat.jsFetch = append(cat.jsFetch, d)
			}
		}
	}
	return cat, nil
}

// All returns every descriptor in registration order.
func (c *Catalog) All() []*Descriptor { return c.all }

// RequestReply returns the request-reply endpoints.
func (c *Catalog) RequestReply() []*Descriptor { return c.requestReply }

// CorePubSub returns the plain pub-sub endpoints.
func (c *Catalog) CorePubSub() []*Descriptor { return c.corePubSub }

// JetStreamConsume returns the continuous JetStream endpoints.
func (c *Catalog) JetStreamConsume() []*Descriptor { return c.jsConsume }

// JetStreamFetch returns the batch-fetch JetStream endpoints.
func (c *Catalog) JetStreamFetch() []*Descriptor { return c.jsFetch }

// Len returns the total endpoint count.
func (c *Catalog) Len() int { return len(c.all) }
