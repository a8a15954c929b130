package calc

import "fmt"

type Adder struct {
	Base int
	name string
}

func (a *Adder) Add(x, y int) int {
	sum := x + y
	if sum > a.Base {
		fmt.Println("big")
	}
	return a.offset(sum)
}

func (a *Adder) offset(v int) int {
	return v + a.Base
}

func helper() int {
	return 1
}
