package main

import "github.com/example/resydrop/cmd"

func main() {
	cmd.Execute()
}
