package memforge_test

import (
	"fmt"

	"github.com/joshuapare/memforge/pkg/memforge"
)

func Example() {
	a, err := memforge.New(&memforge.Options{ArenaCount: 1})
	if err != nil {
		panic(err)
	}
	defer a.Cleanup()

	p, err := a.Malloc(16)
	if err != nil {
		panic(err)
	}
	buf := memforge.Bytes(p, 16)
	copy(buf, "hello, memforge")
	fmt.Println(string(buf[:15]))

	p, err = a.Realloc(p, 4096)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(memforge.Bytes(p, 5)))

	if err := a.Free(p); err != nil {
		panic(err)
	}
	fmt.Println(a.Validate(), a.Stats().CurrentUsage)
	// Output:
	// hello, memforge
	// hello
	// true 0
}

func ExampleAllocator_Thread() {
	a, _ := memforge.New(&memforge.Options{ArenaCount: 2})
	defer a.Cleanup()

	t1, _ := a.Thread()
	t2, _ := a.Thread()
	fmt.Println(t1.Arena(), t2.Arena())
	// Output: 0 1
}
