package connection

import (
	"context"
	"fmt"
	"math/rand"
	"net"

	"github.com/corbalt/collide"
	"github.com/corbalt/collide/params"
)

// Target identifies the (scheme, host, port) a Connection dials — the same
// key a ConnectionPool groups Connections by.
type Target struct {
	Scheme string
	Host   string
	Port   string
}

// DialPlan carries the cross-Worker IP-selection state a single Connection
// needs to honor connect_mode (spec.md §4.1):
//   - Same: ForcedAddr is the one address the Driver resolved and injected;
//     every Connection to this host in this run must use it.
//   - Different: each Worker's Connection must land on a distinct address,
//     cycling by worker_id mod len(addrs); WorkerCount bounds that modulus
//     and is also the minimum address count required.
//   - Random: no extra state; each Connection resolves and rolls its own.
type DialPlan struct {
	Mode        params.ConnectMode
	ForcedAddr  string
	WorkerCount int
}

// resolver is overridable in tests; production code always uses
// net.DefaultResolver.
var resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
} = net.DefaultResolver

// ResolveAddr picks the remote IP address this Connection should dial,
// honoring plan.Mode (spec.md §4.1, P5/P6).
func ResolveAddr(ctx context.Context, target Target, workerID int, plan DialPlan) (string, error) {
	if plan.Mode == params.ConnectSame {
		if plan.ForcedAddr == "" {
			return "", collide.NewError(collide.KindResolutionFailure,
				"connect_mode=same requires a pre-resolved ForcedAddr", nil)
		}
		return net.JoinHostPort(plan.ForcedAddr, target.Port), nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, target.Host)
	if err != nil {
		return "", collide.NewError(collide.KindResolutionFailure,
			fmt.Sprintf("lookup %q", target.Host), err)
	}
	if len(addrs) == 0 {
		return "", collide.NewError(collide.KindResolutionFailure,
			fmt.Sprintf("no addresses for %q", target.Host), nil)
	}

	var chosen net.IPAddr
	switch plan.Mode {
	case params.ConnectDifferent:
		if len(addrs) < plan.WorkerCount {
			return "", collide.NewError(collide.KindResolutionFailure,
				fmt.Sprintf("insufficient addresses for %q: need %d distinct, have %d", target.Host, plan.WorkerCount, len(addrs)), nil)
		}
		chosen = addrs[workerID%len(addrs)]
	case params.ConnectRandom, "":
		chosen = addrs[rand.Intn(len(addrs))]
	default:
		return "", collide.NewError(collide.KindConfigurationFailure,
			fmt.Sprintf("unrecognized connect_mode %q", plan.Mode), nil)
	}

	return net.JoinHostPort(chosen.IP.String(), target.Port), nil
}

// ResolveOnce is what the Driver calls exactly once per host when
// connect_mode=same, to pick the single address every Worker's Connection
// will be forced onto (spec.md §4.1).
func ResolveOnce(ctx context.Context, host string) (string, error) {
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", collide.NewError(collide.KindResolutionFailure, fmt.Sprintf("lookup %q", host), err)
	}
	if len(addrs) == 0 {
		return "", collide.NewError(collide.KindResolutionFailure, fmt.Sprintf("no addresses for %q", host), nil)
	}
	return addrs[0].IP.String(), nil
}
