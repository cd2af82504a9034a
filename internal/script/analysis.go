package script

import "time"

// weight returns the product of iteration counts of lp and all its parents.
func weight(lp *Loop) int {
	w := 1
	for l := lp; l != nil; l = l.Parent {
		w *= l.Iterations
	}
	return w
}

// TotalSteps is the number of node dispatches a full run is expected to
// perform. Nodes in a loop count once per pass, nested loops multiply and
// sibling loops add; nodes outside every loop count once. Used for progress
// reporting only.
func (g *Graph) TotalSteps() int {
	total := 0
	for _, n := range g.NodeOrder {
		total += weight(n.Loop)
	}
	return total
}

// EstimateWait sums the wait(ms) and Delay: durations a full run would sleep.
func (g *Graph) EstimateWait() time.Duration {
	var total time.Duration
	for i := g.Window.Start + 1; i < g.Window.End; i++ {
		in := g.Instructions[i]
		sleeps := (in.Kind == KindDelay && in.DelayOK) || (in.Kind == KindCmd && in.Cmd == CmdWait)
		if !sleeps {
			continue
		}
		total += in.Delay * time.Duration(weight(g.LoopAt(i)))
	}
	return total
}

// Addresses returns the distinct INST:: addresses in the window, in order of
// first appearance.
func (g *Graph) Addresses() []string {
	seen := make(map[string]bool)
	var out []string
	for i := g.Window.Start + 1; i < g.Window.End; i++ {
		in := g.Instructions[i]
		if in.Kind != KindInst || in.Arg == "" || seen[in.Arg] {
			continue
		}
		seen[in.Arg] = true
		out = append(out, in.Arg)
	}
	return out
}
