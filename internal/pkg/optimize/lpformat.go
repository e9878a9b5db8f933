package optimize

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
)

var lpName = strings.NewReplacer("[", "(", "]", ")", " ", "_")

// WriteLP writes p in CPLEX LP format, for inspection with external solvers.
func (p *Problem) WriteLP(w io.Writer) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "\\ %s\nMinimize\n obj:", p.Name)
	written := false
	for i, c := range p.obj {
		if c != 0 {
			fmt.Fprintf(b, " %+g %s", c, lpName.Replace(p.vars[i].Name))
			written = true
		}
	}
	if p.objConst != 0 || !written {
		fmt.Fprintf(b, " %+g", p.objConst)
	}
	fmt.Fprint(b, "\nSubject To\n")
	for _, c := range p.cons {
		fmt.Fprintf(b, " %s:", lpName.Replace(c.Name))
		if len(c.Terms) == 0 {
			fmt.Fprint(b, " 0 x_empty")
		}
		for _, t := range c.Terms {
			fmt.Fprintf(b, " %+g %s", t.Coef, lpName.Replace(p.vars[t.Var].Name))
		}
		fmt.Fprintf(b, " %s %g\n", c.Sense, c.RHS)
	}
	fmt.Fprint(b, "Bounds\n")
	for _, v := range p.vars {
		name := lpName.Replace(v.Name)
		switch {
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			fmt.Fprintf(b, " %s free\n", name)
		case math.IsInf(v.Upper, 1):
			fmt.Fprintf(b, " %s >= %g\n", name, v.Lower)
		case math.IsInf(v.Lower, -1):
			fmt.Fprintf(b, " -inf <= %s <= %g\n", name, v.Upper)
		default:
			fmt.Fprintf(b, " %g <= %s <= %g\n", v.Lower, name, v.Upper)
		}
	}
	if ints := p.Integers(); len(ints) > 0 {
		fmt.Fprint(b, "Binaries\n")
		for _, i := range ints {
			fmt.Fprintf(b, " %s\n", lpName.Replace(p.vars[i].Name))
		}
	}
	fmt.Fprint(b, "End\n")
	return b.Flush()
}
