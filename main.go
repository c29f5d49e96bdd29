package main

import "github.com/vendaflow/vendaflow/cmd"

func main() {
	cmd.Execute()
}
