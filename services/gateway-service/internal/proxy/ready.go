package proxy

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/modernmen/shopfront/libs/grpcx"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Target is a backend gRPC health endpoint.
type Target struct {
	Service string
	Addr    string
}

// ParseTargets reads "service=host:port" pairs. Entries without a name probe
// the server's overall health.
func ParseTargets(items []string) []Target {
	out := make([]Target, 0, len(items))
	for _, item := range items {
		name, addr, ok := strings.Cut(item, "=")
		if !ok {
			name, addr = "", item
		}
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, Target{Service: name, Addr: addr})
	}
	return out
}

type Downstream struct {
	targets []Target
	conns   []*grpc.ClientConn
}

// NewDownstream opens lazy gRPC clients for every target.
func NewDownstream(targets []Target) (*Downstream, error) {
	d := &Downstream{targets: targets}
	for _, t := range targets {
		conn, err := grpcx.NewClient(t.Addr, grpcx.DialOptions{})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("dial %s: %w", t.Addr, err)
		}
		d.conns = append(d.conns, conn)
	}
	return d, nil
}

// Check probes every backend concurrently and fails on the first service
// that is not serving.
func (d *Downstream) Check(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range d.targets {
		conn := d.conns[i]
		g.Go(func() error {
			if err := grpcx.Check(ctx, conn, t.Service); err != nil {
				return fmt.Errorf("%s: %w", cmp.Or(t.Service, t.Addr), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (d *Downstream) Close() {
	for _, conn := range d.conns {
		_ = conn.Close()
	}
}
