package refund

import (
	"context"
	"fmt"
	"strings"
)

// GatewayRouter sends each refund to the gateway that issued the payment,
// picked by the payment reference's prefix.
type GatewayRouter struct {
	routes []route
}

type route struct {
	prefix  string
	gateway GatewayRefunder
}

func NewGatewayRouter() *GatewayRouter {
	return &GatewayRouter{}
}

// Handle routes payment references starting with prefix to g. Longer
// prefixes win.
func (r *GatewayRouter) Handle(prefix string, g GatewayRefunder) {
	i := 0
	for i < len(r.routes) && len(r.routes[i].prefix) >= len(prefix) {
		i++
	}
	r.routes = append(r.routes, route{})
	copy(r.routes[i+1:], r.routes[i:])
	r.routes[i] = route{prefix: prefix, gateway: g}
}

// Len returns the number of registered gateways.
func (r *GatewayRouter) Len() int { return len(r.routes) }

func (r *GatewayRouter) Refund(ctx context.Context, req GatewayRefund) (string, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(req.PaymentRef, rt.prefix) {
			return rt.gateway.Refund(ctx, req)
		}
	}
	return "", fmt.Errorf("no gateway configured for payment %q", req.PaymentRef)
}
