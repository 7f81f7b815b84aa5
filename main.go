package main

import (
	"videoflix/cmd"
)

func main() {
	cmd.Execute()
}
