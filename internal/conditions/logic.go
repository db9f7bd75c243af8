package conditions

// Combinators evaluate every child on each call, even once the outcome is
// decided, so memory-bearing children never miss a state update.

type anyOf struct {
	children []Condition
}

func Any(children ...Condition) Condition {
	return anyOf{children: children}
}

func (c anyOf) Eval() bool {
	fired := false
	for _, child := range c.children {
		if child.Eval() {
			fired = true
		}
	}
	return fired
}

type allOf struct {
	children []Condition
}

func All(children ...Condition) Condition {
	return allOf{children: children}
}

func (c allOf) Eval() bool {
	if len(c.children) == 0 {
		return false
	}
	holds := true
	for _, child := range c.children {
		if !child.Eval() {
			holds = false
		}
	}
	return holds
}

type not struct {
	child Condition
}

func Not(child Condition) Condition {
	return not{child: child}
}

func (c not) Eval() bool {
	return !c.child.Eval()
}

// Always fires on every evaluation. Used for hooks that run unconditionally.
type Always struct{}

func (Always) Eval() bool { return true }
