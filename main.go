package main

import (
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/yumao-zk/causalgraph/causal"
)

func main() {
	litter.Config.HidePrivateFields = false

	a := causal.NewSpanGraph("a")
	z := causal.NewSpanGraph("z")
	a.Push(2)
	z.Push(5)

	a.Merge(z)
	z.Merge(a)

	fmt.Printf("a frontier: %v\n", a.Frontier())
	fmt.Printf("z frontier: %v\n", z.Frontier())

	a.Push(1)
	z.Push(1)
	z.Merge(a)

	ancestor, ok := z.CommonAncestor(
		causal.ID{Replica: "a", Counter: 2},
		causal.ID{Replica: "z", Counter: 5},
	)
	fmt.Printf("common ancestor: %v (found=%v)\n", ancestor, ok)

	litter.Dump(z.Frontier(), z.Version(), z.Roots())
}
