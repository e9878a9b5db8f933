/*
coupling.go Transmission and distribution coupling. Each distribution model attaches at its root
bus to one transmission bus; the exchange between them is one active and, where the
distribution carries reactive balances, one reactive variable per snapshot key.
*/

package coupling

import (
	"fmt"
	"log"
	"math"

	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// TransmissionNamespace prefixes every transmission variable of a coupled problem.
const TransmissionNamespace = "t"

// Error reports an invalid boundary reference.
type Error struct {
	Network string
	TBus    int
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("coupling %q (boundary bus %d): %s", e.Network, e.TBus, e.Reason)
}

// Link is one distribution model attached to a transmission bus.
type Link struct {
	Namespace    string
	Distribution *multinetwork.Model
	TBus         int
	Root         int
}

// Coupled is a transmission model with its attached distribution models.
type Coupled struct {
	Transmission *multinetwork.Model
	Links        []Link

	exchangeLimit float64
}

type settings struct {
	allowSharedBus bool
	exchangeLimit  float64
}

// Option configures Couple.
type Option func(*settings)

// AllowSharedBus permits several distribution models on one transmission bus.
func AllowSharedBus() Option {
	return func(s *settings) {
		s.allowSharedBus = true
	}
}

// WithExchangeLimit bounds every boundary exchange to [-limit, limit].
func WithExchangeLimit(limit float64) Option {
	return func(s *settings) {
		s.exchangeLimit = limit
	}
}

// Couple validates the boundary references of ds against t. Distribution namespaces are
// d1, d2, ... in argument order.
func Couple(t *multinetwork.Model, ds []*multinetwork.Model, opts ...Option) (*Coupled, error) {
	cfg := settings{}
	for _, o := range opts {
		o(&cfg)
	}
	if t == nil || t.Len() == 0 {
		return nil, &Error{Reason: "empty transmission model"}
	}
	tNet := first(t)

	c := &Coupled{Transmission: t}
	used := make(map[int]string)
	for i, d := range ds {
		if d == nil || d.Len() == 0 {
			return nil, &Error{Network: fmt.Sprintf("distribution %d", i+1), Reason: "empty distribution model"}
		}
		if d.TBus == 0 {
			return nil, &Error{d.Name, 0, "missing boundary bus reference"}
		}
		if !tNet.HasBus(d.TBus) {
			return nil, &Error{d.Name, d.TBus, fmt.Sprintf("no such bus in transmission network %q", t.Name)}
		}
		if prev, ok := used[d.TBus]; ok && !cfg.allowSharedBus {
			return nil, &Error{d.Name, d.TBus, fmt.Sprintf("bus already used by %q", prev)}
		}
		used[d.TBus] = d.Name
		if !t.Dimensions.SameShape(d.Dimensions) {
			return nil, &Error{d.Name, d.TBus, "dimensions differ from the transmission model"}
		}
		root, ok := first(d).RefBus()
		if !ok {
			return nil, &Error{d.Name, d.TBus, "distribution network has no root (reference) bus"}
		}
		c.Links = append(c.Links, Link{
			Namespace:    fmt.Sprintf("d%d", i+1),
			Distribution: d,
			TBus:         d.TBus,
			Root:         root.ID,
		})
	}
	c.exchangeLimit = cfg.exchangeLimit
	return c, nil
}

// BalanceRow names the power balance row of bus at key k in namespace ns.
type BalanceRow func(ns string, k multinetwork.Key, bus int) string

// Balances names the balance rows the exchanges are bound to. Reactive may be nil when no
// formulation carries reactive balances.
type Balances struct {
	Active   BalanceRow
	Reactive BalanceRow
}

// Exchange is the boundary exchange of one link at one key. Q is -1 when the distribution
// root has no reactive balance row.
type Exchange struct {
	Namespace string
	TBus      int
	Key       multinetwork.Key
	P         int
	Q         int
}

// Bind adds the exchange variables of every link and key to p. An exchange is a withdrawal at
// the transmission bus and an injection at the distribution root bus. The reactive exchange is
// bound wherever the distribution root has a reactive balance row, and is withdrawn at the
// transmission bus only when that side has one too. Exchanges are returned in link, key order.
func (c *Coupled) Bind(p *opt.Problem, rows Balances) ([]Exchange, error) {
	lower, upper := math.Inf(-1), math.Inf(1)
	if c.exchangeLimit > 0 {
		lower, upper = -c.exchangeLimit, c.exchangeLimit
	}

	var out []Exchange
	for _, l := range c.Links {
		reactive := 0
		for _, k := range c.Transmission.Keys() {
			tRow, ok := p.Row(rows.Active(TransmissionNamespace, k, l.TBus))
			if !ok {
				return nil, &Error{l.Distribution.Name, l.TBus, fmt.Sprintf("no transmission balance at %s", k)}
			}
			dRow, ok := p.Row(rows.Active(l.Namespace, k, l.Root))
			if !ok {
				return nil, &Error{l.Distribution.Name, l.TBus, fmt.Sprintf("no distribution balance at root bus %d, %s", l.Root, k)}
			}
			ex := Exchange{Namespace: l.Namespace, TBus: l.TBus, Key: k, Q: -1}
			ex.P = p.AddVariable(opt.Var{
				Name:  ExchangeName(l.Namespace, l.TBus, k),
				Lower: lower,
				Upper: upper,
				Slot:  opt.Slot{Scenario: k.Scenario, Year: k.Year, Hour: k.Hour},
			})
			p.AddTerm(tRow, ex.P, -1)
			p.AddTerm(dRow, ex.P, 1)

			if rows.Reactive != nil {
				if dq, ok := p.Row(rows.Reactive(l.Namespace, k, l.Root)); ok {
					ex.Q = p.AddVariable(opt.Var{
						Name:  ReactiveExchangeName(l.Namespace, l.TBus, k),
						Lower: lower,
						Upper: upper,
						Slot:  opt.Slot{Scenario: k.Scenario, Year: k.Year, Hour: k.Hour},
					})
					p.AddTerm(dq, ex.Q, 1)
					if tq, ok := p.Row(rows.Reactive(TransmissionNamespace, k, l.TBus)); ok {
						p.AddTerm(tq, ex.Q, -1)
					}
					reactive++
				}
			}
			out = append(out, ex)
		}
		log.Printf("[Coupling] %s attached at transmission bus %d (root bus %d, %d reactive exchanges)\n",
			l.Distribution.Name, l.TBus, l.Root, reactive)
	}
	return out, nil
}

func first(m *multinetwork.Model) *network.Network {
	s, _ := m.Snapshot(m.Keys()[0])
	return s.Network
}

// ExchangeLocal is the name of the active exchange at tbus within its namespace.
func ExchangeLocal(tbus int) string {
	return fmt.Sprintf("pexch[%d]", tbus)
}

// ReactiveExchangeLocal is the name of the reactive exchange at tbus within its namespace.
func ReactiveExchangeLocal(tbus int) string {
	return fmt.Sprintf("qexch[%d]", tbus)
}

// ExchangeName is the variable name of the active boundary exchange of namespace ns.
func ExchangeName(ns string, tbus int, k multinetwork.Key) string {
	return fmt.Sprintf("%s/%s@%s", ns, ExchangeLocal(tbus), k)
}

// ReactiveExchangeName is the variable name of the reactive boundary exchange of namespace ns.
func ReactiveExchangeName(ns string, tbus int, k multinetwork.Key) string {
	return fmt.Sprintf("%s/%s@%s", ns, ReactiveExchangeLocal(tbus), k)
}
