package messaging

import "github.com/richardliu001/order-choreography/internal/config"

// Route is where a class of events is published.
type Route struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

// Subscription is a durable queue bound to an exchange under one or more routing keys.
type Subscription struct {
	Exchange    string
	Queue       string
	RoutingKeys []string
}

// Binds reports whether a message carrying routingKey is delivered to s.
func (s Subscription) Binds(routingKey string) bool {
	for _, k := range s.RoutingKeys {
		if k == routingKey {
			return true
		}
	}
	return false
}

func (r Route) Subscription() Subscription {
	return Subscription{Exchange: r.Exchange, Queue: r.Queue, RoutingKeys: []string{r.RoutingKey}}
}

// Topology is the full set of routes shared by the order service, the processor and the restocker.
type Topology struct {
	Orders          Route
	ProcessedOrders Route
	Restocking      Route
	LowStockWarning Route
}

func NewTopology(c config.TopologyConfig) Topology {
	return Topology{
		Orders:          Route(c.Orders),
		ProcessedOrders: Route(c.ProcessedOrders),
		Restocking:      Route(c.Restocking),
		LowStockWarning: Route(c.LowStockWarning),
	}
}

// RestockingSubscription binds both restocking keys on the restocking queue.
func (t Topology) RestockingSubscription() Subscription {
	keys := []string{t.Restocking.RoutingKey}
	if t.LowStockWarning.RoutingKey != t.Restocking.RoutingKey {
		keys = append(keys, t.LowStockWarning.RoutingKey)
	}
	return Subscription{Exchange: t.Restocking.Exchange, Queue: t.Restocking.Queue, RoutingKeys: keys}
}
