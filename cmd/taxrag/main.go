package main

import (
	"os"
)

func main() {
	rt := newRuntime()
	if err := rt.execute(rootCmd(rt)); err != nil {
		os.Exit(1)
	}
}
